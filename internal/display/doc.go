// Package display holds loader.ProgressDisplay and loader.Surface
// implementations: terminal renders an mpb progress bar, logdisplay reports
// through structured logs for headless runs.
package display
