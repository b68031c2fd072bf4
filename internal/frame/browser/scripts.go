package browser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}

func progressScript(selector string, percent int) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) { return false; }
	el.style.width = %d + '%%';
	return true;
})()`, jsString(selector), percent)
}

func displayScript(selector, display string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) { return false; }
	el.style.display = %s;
	return true;
})()`, jsString(selector), jsString(display))
}

// deliverScript posts {field: ArrayBuffer} into the frame's window using an
// explicit target origin and evaluates to the number of bytes posted, or -1
// when the frame is missing.
func deliverScript(frameSelector, field, origin string, payload []byte) string {
	return fmt.Sprintf(`(() => {
	const frame = document.querySelector(%s);
	if (!frame || !frame.contentWindow) { return -1; }
	const raw = atob(%s);
	const bytes = new Uint8Array(raw.length);
	for (let i = 0; i < raw.length; i++) { bytes[i] = raw.charCodeAt(i); }
	frame.contentWindow.postMessage({ [%s]: bytes.buffer }, %s);
	return bytes.length;
})()`,
		jsString(frameSelector),
		jsString(base64.StdEncoding.EncodeToString(payload)),
		jsString(field),
		jsString(origin),
	)
}
