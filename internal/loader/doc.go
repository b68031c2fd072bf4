// Package loader implements the progressive binary loader: it streams a
// payload over HTTP, reports completion percentages to a display while bytes
// arrive, and hands the assembled buffer to a content target once the
// transfer finishes.
//
// The pipeline is strictly sequential. Chunk n+1 is not read until chunk n has
// been counted, reported and appended, and the hand-off (hide loading surface,
// reveal content surface, deliver payload) happens exactly once, after a final
// 100% report and a fixed delay.
package loader
