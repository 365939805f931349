package browser

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// refAttr tags elements found by text so later calls can address them.
const refAttr = "data-claimpilot-ref"

// Element script bodies. Each runs with `el` bound to the first element the
// selector matches and `arg` to the JSON-decoded argument.
const (
	jsValue = `return el.value == null ? "" : String(el.value);`

	jsSetValue = `
		el.value = arg.value;
		for (const name of arg.events) {
			el.dispatchEvent(new Event(name, { bubbles: true }));
		}
		return true;`

	jsText   = `return (el.textContent || "").trim();`
	jsMarkup = `return el.innerHTML;`

	jsEnable = `
		el.disabled = false;
		el.removeAttribute("disabled");
		return true;`

	jsClearRestrictions = `
		el.removeAttribute("readonly");
		el.readOnly = false;
		if (arg && el.classList) {
			el.classList.remove("disable-click");
		}
		return true;`

	jsScrollIntoView = `
		el.scrollIntoView({ behavior: "smooth", block: "center" });
		return true;`

	jsClick = `
		el.click();
		return true;`

	jsDispatchClick = `
		el.dispatchEvent(new MouseEvent("click", { bubbles: true, cancelable: true, view: window }));
		return true;`

	jsDispatchSubmit = `
		const ev = new Event("submit", { bubbles: true, cancelable: true });
		return { cancelled: !el.dispatchEvent(ev) };`

	jsSubmitForm = `
		const form = el.tagName === "FORM" ? el : el.closest("form");
		if (!form) {
			return { form: false };
		}
		HTMLFormElement.prototype.submit.call(form);
		return { form: true };`
)

// jsFindByText tags the first element matching arg.selector whose text
// contains arg.text and returns a selector for it.
const jsFindByText = `(function(arg) {
	for (const el of document.querySelectorAll(arg.selector)) {
		if ((el.textContent || "").includes(arg.text)) {
			el.setAttribute(%q, arg.ref);
			return { found: true, result: '[%s="' + arg.ref + '"]' };
		}
	}
	return { found: false };
})(%s)`

const jsExists = `document.querySelector(%s) !== null`

// jsonEncode renders v as a JavaScript literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// elementScript wraps body so it runs against the element selector matches.
// The script yields {found, result}.
func elementScript(selector, body string, arg interface{}) string {
	return fmt.Sprintf(`(function(sel, arg) {
	const el = document.querySelector(sel);
	if (!el) {
		return { found: false };
	}
	const result = (function() {
		%s
	})();
	return { found: true, result: result };
})(%s, %s)`, body, jsonEncode(selector), jsonEncode(arg))
}

func findByTextScript(selector, text, ref string) string {
	arg := map[string]string{"selector": selector, "text": text, "ref": ref}
	return fmt.Sprintf(jsFindByText, refAttr, refAttr, jsonEncode(arg))
}

func existsScript(selector string) string {
	return fmt.Sprintf(jsExists, jsonEncode(selector))
}
