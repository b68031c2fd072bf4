// Package frame implements loader.ContentTarget on top of blob stores and
// message publishers. The browser subpackage delivers into a live page.
package frame
