package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/formfiller"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
	"github.com/corvidlabs/corvid-core/internal/proxypool"
	"github.com/corvidlabs/corvid-core/internal/recorder"
	"github.com/corvidlabs/corvid-core/internal/screenshot"
)

// --- argument helpers ---

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argFloat(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func argMap(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}

func argSlice(args map[string]any, key string) []any {
	if v, ok := args[key].([]any); ok {
		return v
	}
	return nil
}

// resolvePageID returns the requested page id, or the active page, creating
// one on first use if none exists yet.
func resolvePageID(d *Dispatcher, args map[string]any) (string, error) {
	if id := argString(args, "pageId"); id != "" {
		return id, nil
	}
	if active := d.Components.Pages.ActivePageID(); active != "" {
		return active, nil
	}
	return d.Components.Pages.CreatePage(nil)
}

func resolveHost(d *Dispatcher, args map[string]any) (pagehost.Host, string, error) {
	pageID, err := resolvePageID(d, args)
	if err != nil {
		return nil, "", err
	}
	page, err := d.Components.Pages.GetPage(pageID)
	if err != nil {
		return nil, "", err
	}
	return page.HostRef, pageID, nil
}

// --- registration ---

func registerHandlers(r *Registry) {
	r.Register("ping", Schema{}, handlePing)
	r.Register("status", Schema{}, handleStatus)

	r.Register("navigate", Schema{Required: []string{"url"}}, handleNavigate)
	r.Register("click", Schema{Required: []string{"selector"}}, handleClick)
	r.Register("fill", Schema{Required: []string{"selector", "value"}}, handleFill)
	r.Register("type_text", Schema{Required: []string{"selector", "text"}}, handleTypeText)
	r.Register("execute_script", Schema{Required: []string{"code"}}, handleExecuteScript)
	r.Register("wait_for_element", Schema{Required: []string{"selector"}}, handleWaitForElement)

	r.Register("get_cookies", Schema{}, handleGetCookies)
	r.Register("set_cookies", Schema{Required: []string{"cookies"}}, handleSetCookies)
	r.Register("clear_cookies", Schema{}, handleClearCookies)

	r.Register("set_proxy", Schema{Required: []string{"proxyId"}}, handleSetProxy)
	r.Register("get_proxy_status", Schema{}, handleGetProxyStatus)
	r.Register("set_proxy_list", Schema{Required: []string{"proxies"}}, handleSetProxyList)

	r.Register("screenshot_capture", Schema{}, handleScreenshotCapture)
	r.Register("screenshot_compare", Schema{Required: []string{"before", "after"}}, handleScreenshotCompare)

	r.Register("recording_start", Schema{}, handleRecordingStart)
	r.Register("recording_stop", Schema{Required: []string{"recordingId"}}, handleRecordingStop)
	r.Register("recording_export", Schema{Required: []string{"recordingId", "dialect"}}, handleRecordingExport)

	r.Register("list_sessions", Schema{}, handleListSessions)
	r.Register("get_session_info", Schema{Required: []string{"sessionId"}}, handleGetSessionInfo)

	r.Register("list_tabs", Schema{}, handleListTabs)
	r.Register("navigate_tab", Schema{Required: []string{"pageId", "url"}}, handleNavigateTab)
	r.Register("close_tab", Schema{Required: []string{"pageId"}}, handleCloseTab)
	r.Register("get_active_tab", Schema{}, handleGetActiveTab)

	r.Register("key_press", Schema{Required: []string{"key"}}, handleKeyPress)
	r.Register("key_combination", Schema{Required: []string{"keys"}}, handleKeyCombination)
	r.Register("mouse_move", Schema{Required: []string{"x", "y"}}, handleMouseMove)
	r.Register("mouse_click", Schema{Required: []string{"x", "y"}}, handleMouseClick)
	r.Register("mouse_drag", Schema{Required: []string{"fromX", "fromY", "toX", "toY"}}, handleMouseDrag)
	r.Register("click_at_element", Schema{Required: []string{"selector"}}, handleClickAtElement)

	r.Register("keyboard_layouts", Schema{}, handleKeyboardLayouts)
	r.Register("special_keys", Schema{}, handleSpecialKeys)

	r.Register("list_sock_puppets", Schema{}, handleListSockPuppets)

	for verb := range r.entries {
		r.Alias("browser_"+verb, verb)
	}
}

// --- handlers ---

func handlePing(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	return map[string]any{"message": "pong"}, nil
}

func handleStatus(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if d.Components.Pool != nil {
		out["windowPool"] = d.Components.Pool.Status()
	}
	if d.Components.Pages != nil {
		out["pages"] = d.Components.Pages.Stats()
	}
	if d.Components.Evidence != nil {
		out["verificationsFailed"] = d.Components.Evidence.VerificationsFailed()
	}
	return out, nil
}

func handleNavigate(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	pageID, err := resolvePageID(d, args)
	if err != nil {
		return nil, err
	}
	res := d.Components.Pages.NavigatePage(ctx, pageID, argString(args, "url"))
	if !res.Success {
		return nil, res.Err
	}
	return map[string]any{"pageId": pageID, "url": res.URL}, nil
}

func handleClick(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`(function(){var el=document.querySelector(%q);if(!el)return false;el.click();return true;})()`, argString(args, "selector"))
	ok, err := host.Evaluate(ctx, script, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID, "clicked": ok}, nil
}

func handleFill(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	script := formfiller.SetValueScript(argString(args, "selector"), argString(args, "value"))
	ok, err := host.Evaluate(ctx, script, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID, "filled": ok}, nil
}

func handleTypeText(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	script := formfiller.SetValueScript(argString(args, "selector"), argString(args, "text"))
	ok, err := host.Evaluate(ctx, script, nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID, "typed": ok}, nil
}

func handleExecuteScript(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	result, err := host.Evaluate(ctx, argString(args, "code"), argMap(args, "args"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID, "result": result}, nil
}

func handleWaitForElement(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(argInt(args, "timeoutMs", 5000)) * time.Millisecond
	deadline := time.Now().Add(timeout)
	script := fmt.Sprintf(`(function(){return !!document.querySelector(%q);})()`, argString(args, "selector"))
	for {
		found, err := host.Evaluate(ctx, script, nil)
		if err != nil {
			return nil, err
		}
		if b, ok := found.(bool); ok && b {
			return map[string]any{"pageId": pageID, "found": true}, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.New(errs.Timeout, "wait_for_element: timed out waiting for "+argString(args, "selector"))
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.Timeout, "wait_for_element: context done", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func handleGetCookies(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	cookies, err := host.GetCookies(ctx, pagehost.CookieFilter{Domain: argString(args, "domain"), Name: argString(args, "name")})
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID, "cookies": cookies}, nil
}

func handleSetCookies(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	items := argSlice(args, "cookies")
	count := 0
	for _, raw := range items {
		c, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		details := pagehost.CookieDetails{
			Name: argString(c, "name"), Value: argString(c, "value"),
			Domain: argString(c, "domain"), Path: argString(c, "path"),
			Secure: argBool(c, "secure", false), HTTPOnly: argBool(c, "httpOnly", false),
			SameSite: argString(c, "sameSite"),
		}
		if err := host.SetCookie(ctx, details); err != nil {
			return nil, err
		}
		count++
	}
	return map[string]any{"pageId": pageID, "set": count}, nil
}

func handleClearCookies(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	domain := argString(args, "domain")
	cookies, err := host.GetCookies(ctx, pagehost.CookieFilter{Domain: domain})
	if err != nil {
		return nil, err
	}
	for _, c := range cookies {
		if err := host.RemoveCookie(ctx, "https://"+c.Domain, c.Name); err != nil {
			return nil, err
		}
	}
	return map[string]any{"pageId": pageID, "cleared": len(cookies)}, nil
}

func handleSetProxy(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	snap, err := d.Components.Proxies.Get(argString(args, "proxyId"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"proxy": snap}, nil
}

func handleGetProxyStatus(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	if id := argString(args, "proxyId"); id != "" {
		snap, err := d.Components.Proxies.Get(id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"proxy": snap}, nil
	}
	return map[string]any{"proxies": d.Components.Proxies.List()}, nil
}

func handleSetProxyList(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	items := argSlice(args, "proxies")
	added := 0
	for _, raw := range items {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cfg := proxypool.Config{
			ID: argString(p, "id"), Type: proxypool.Type(argString(p, "type")),
			Country: argString(p, "country"), Region: argString(p, "region"), City: argString(p, "city"),
			Weight: argInt(p, "weight", 1),
		}
		if cfg.ID == "" {
			continue
		}
		if _, err := d.Components.Proxies.AddProxy(cfg); err != nil {
			return nil, err
		}
		added++
	}
	return map[string]any{"added": added}, nil
}

func handleScreenshotCapture(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	info := screenshot.CaptureInfo{URL: argString(args, "url")}
	var res screenshot.Result
	if argBool(args, "fullPage", false) {
		res = screenshot.CaptureFullPage(ctx, host, 0, 0, info)
	} else {
		res = screenshot.CaptureViewport(ctx, host, info)
	}
	if !res.Success {
		return nil, errs.New(errs.IllegalState, res.Error)
	}
	return map[string]any{"pageId": pageID, "hash": res.Hash, "size": res.Size}, nil
}

func handleScreenshotCompare(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	before := []byte(argString(args, "before"))
	after := []byte(argString(args, "after"))
	diff, err := screenshot.CompareScreenshots(ctx, before, after, screenshot.CompareOpts{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"dissimilarity": diff.Dissimilarity}, nil
}

func handleRecordingStart(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	id := d.Components.Recorders.Create(recorder.Options{Flags: recorder.AllEnabled(), MaskSensitiveData: true})
	rec, _ := d.Components.Recorders.Get(id)
	if err := rec.StartRecording(); err != nil {
		return nil, err
	}
	return map[string]any{"recordingId": id}, nil
}

func handleRecordingStop(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	id := argString(args, "recordingId")
	rec, ok := d.Components.Recorders.Get(id)
	if !ok {
		return nil, errs.New(errs.NotFound, "recording not found: "+id)
	}
	sealed, err := rec.StopRecording(nil)
	if err != nil {
		return nil, err
	}
	d.Components.Recorders.PutSealed(id, sealed)
	return map[string]any{"hash": sealed.Hash, "eventCount": len(sealed.Events)}, nil
}

func handleRecordingExport(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	id := argString(args, "recordingId")
	sealed, ok := d.Components.Recorders.GetSealed(id)
	if !ok {
		return nil, errs.New(errs.IllegalState, "recording_export: call recording_stop before export: "+id)
	}
	out, err := recorder.Export(sealed, recorder.Dialect(argString(args, "dialect")), recorder.ExportOpts{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"recordingId": id, "export": out}, nil
}

func handleListSessions(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	return map[string]any{"sessions": d.Components.Puppets.ListSessions()}, nil
}

func handleGetSessionInfo(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	s, ok := d.Components.Puppets.GetSession(argString(args, "sessionId"))
	if !ok {
		return nil, errs.New(errs.NotFound, "session not found: "+argString(args, "sessionId"))
	}
	return map[string]any{"session": s}, nil
}

func handleListTabs(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	return map[string]any{"tabs": d.Components.Pages.ListPages()}, nil
}

func handleNavigateTab(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	res := d.Components.Pages.NavigatePage(ctx, argString(args, "pageId"), argString(args, "url"))
	if !res.Success {
		return nil, res.Err
	}
	return map[string]any{"url": res.URL}, nil
}

func handleCloseTab(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	if err := d.Components.Pages.DestroyPage(argString(args, "pageId")); err != nil {
		return nil, err
	}
	return map[string]any{"closed": true}, nil
}

func handleGetActiveTab(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	id := d.Components.Pages.ActivePageID()
	if id == "" {
		return map[string]any{"pageId": nil}, nil
	}
	page, err := d.Components.Pages.GetPage(id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": id, "url": page.URL}, nil
}

func handleKeyPress(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`(function(){document.activeElement.dispatchEvent(new KeyboardEvent('keydown',{key:%q,bubbles:true}));return true;})()`, argString(args, "key"))
	if _, err := host.Evaluate(ctx, script, nil); err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID}, nil
}

func handleKeyCombination(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	keys := argSlice(args, "keys")
	for _, k := range keys {
		ks, _ := k.(string)
		script := fmt.Sprintf(`(function(){document.activeElement.dispatchEvent(new KeyboardEvent('keydown',{key:%q,bubbles:true}));return true;})()`, ks)
		if _, err := host.Evaluate(ctx, script, nil); err != nil {
			return nil, err
		}
	}
	return map[string]any{"pageId": pageID}, nil
}

func handleMouseMove(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`(function(){document.dispatchEvent(new MouseEvent('mousemove',{clientX:%d,clientY:%d,bubbles:true}));return true;})()`, argInt(args, "x", 0), argInt(args, "y", 0))
	if _, err := host.Evaluate(ctx, script, nil); err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID}, nil
}

func handleMouseClick(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(`(function(){document.elementFromPoint(%d,%d)?.click();return true;})()`, argInt(args, "x", 0), argInt(args, "y", 0))
	if _, err := host.Evaluate(ctx, script, nil); err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID}, nil
}

func handleMouseDrag(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	host, pageID, err := resolveHost(d, args)
	if err != nil {
		return nil, err
	}
	script := fmt.Sprintf(
		`(function(){var a=document.elementFromPoint(%d,%d);var b=document.elementFromPoint(%d,%d);`+
			`if(a)a.dispatchEvent(new MouseEvent('mousedown',{bubbles:true}));`+
			`if(b)b.dispatchEvent(new MouseEvent('mouseup',{bubbles:true}));return true;})()`,
		argInt(args, "fromX", 0), argInt(args, "fromY", 0), argInt(args, "toX", 0), argInt(args, "toY", 0))
	if _, err := host.Evaluate(ctx, script, nil); err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID}, nil
}

func handleClickAtElement(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	return handleClick(ctx, d, clientID, args)
}

// keyboardLayouts is the closed set of layouts the core advertises to
// clients; expanding it changes only this list, not the protocol.
var keyboardLayouts = []string{"us", "uk", "de", "fr", "es"}

// specialKeys is the set of non-printable key names advertised to clients;
// key_press does not check its key argument against this list.
var specialKeys = []string{"Enter", "Tab", "Escape", "Backspace", "Delete", "ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight", "Home", "End", "PageUp", "PageDown"}

func handleKeyboardLayouts(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	return map[string]any{"layouts": keyboardLayouts}, nil
}

func handleSpecialKeys(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	return map[string]any{"keys": specialKeys}, nil
}

func handleListSockPuppets(ctx context.Context, d *Dispatcher, clientID string, args map[string]any) (map[string]any, error) {
	entities, err := d.Components.Puppets.SearchPuppets(ctx, argString(args, "search"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"puppets": entities}, nil
}
