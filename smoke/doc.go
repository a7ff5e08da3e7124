// Package smoke holds the self-check cases compiled into op-caserunner.
// Run them from the repository root with:
//
//	op-caserunner --roots ./smoke
package smoke
