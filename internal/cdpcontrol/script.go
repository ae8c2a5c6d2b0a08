package cdpcontrol

import (
	"encoding/json"
	"strings"

	"github.com/dgnsrekt/cayt_agent/internal/config"
	"github.com/dgnsrekt/cayt_agent/internal/overlay"
	"github.com/dgnsrekt/cayt_agent/internal/protocol"
)

// Bindings exposed to the page through Runtime.addBinding.
const (
	bindingToggle   = "__caytToggle"
	bindingPlayback = "__caytPlayback"

	overlayID = "cayt-overlay"
	buttonID  = "cayt-toggle"
	styleID   = "cayt-style"
)

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// decodeEnvelope unpacks the JSON string an evaluation returned into out.
func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return protocol.NewError(protocol.CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = protocol.CodeEvalFailure
		}
		return protocol.NewError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return protocol.NewError(protocol.CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + protocol.CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

const overlayCSS = `
#cayt-overlay { position:absolute; left:50%; bottom:12%; transform:translateX(-50%); z-index:60; max-width:80%; padding:4px 10px; border-radius:4px; background:rgba(0,0,0,.75); color:#fff; text-align:center; pointer-events:none; }
#cayt-overlay .cayt-line-secondary { opacity:.75; font-size:.8em; }
#cayt-overlay.cayt-size-small { font-size:16px; }
#cayt-overlay.cayt-size-medium { font-size:22px; }
#cayt-overlay.cayt-size-large { font-size:30px; }
#cayt-overlay.cayt-error { background:rgba(140,20,20,.85); }
#cayt-toggle { font-weight:bold; color:#fff; }
`

// installScript creates the overlay and toggle button inside the player and
// binds the video's time events. It replaces earlier copies, so it can run
// again after every navigation.
func installScript(container string) string {
	return buildIIFE(`
var player = document.querySelector(` + jsString(container) + `);
if (!player) {
  return JSON.stringify({ok:false,error_code:"` + protocol.CodePageUnavailable + `",error_message:"player container not found"});
}
if (!document.getElementById(` + jsString(styleID) + `)) {
  var style = document.createElement("style");
  style.id = ` + jsString(styleID) + `;
  style.textContent = ` + jsString(overlayCSS) + `;
  document.head.appendChild(style);
}
var old = document.getElementById(` + jsString(overlayID) + `);
if (old) { old.remove(); }
var ov = document.createElement("div");
ov.id = ` + jsString(overlayID) + `;
ov.className = "cayt-overlay cayt-hidden cayt-size-medium";
ov.style.display = "none";
player.appendChild(ov);

var oldBtn = document.getElementById(` + jsString(buttonID) + `);
if (oldBtn) { oldBtn.remove(); }
var controls = player.querySelector(".ytp-right-controls");
if (controls) {
  var btn = document.createElement("button");
  btn.id = ` + jsString(buttonID) + `;
  btn.className = "ytp-button";
  btn.title = "Translated subtitles";
  btn.textContent = "CA";
  btn.addEventListener("click", function(ev) {
    ev.stopPropagation();
    if (typeof window.` + bindingToggle + ` === "function") { window.` + bindingToggle + `("toggle"); }
  });
  controls.insertBefore(btn, controls.firstChild);
}

var video = player.querySelector("video");
if (video && !video.__caytBound) {
  video.__caytBound = true;
  var send = function(seek) {
    if (typeof window.` + bindingPlayback + ` !== "function") { return; }
    window.` + bindingPlayback + `(JSON.stringify({time: video.currentTime, seek: seek}));
  };
  video.addEventListener("timeupdate", function() { send(false); });
  video.addEventListener("seeked", function() { send(true); });
}
return JSON.stringify({ok:true,data:{video:!!video,button:!!controls}});
`)
}

// renderScript applies v to the overlay element.
func renderScript(v overlay.View) string {
	return buildIIFE(`
var ov = document.getElementById(` + jsString(overlayID) + `);
if (!ov) {
  return JSON.stringify({ok:false,error_code:"` + protocol.CodePageUnavailable + `",error_message:"overlay not installed"});
}
var lines = ` + jsJSON(v.Lines) + ` || [];
ov.className = ` + jsString(v.Class) + `;
while (ov.firstChild) { ov.removeChild(ov.firstChild); }
for (var i = 0; i < lines.length; i++) {
  var div = document.createElement("div");
  div.className = i === 0 ? "cayt-line" : "cayt-line cayt-line-secondary";
  div.textContent = lines[i];
  ov.appendChild(div);
}
ov.style.display = ` + jsString(displayValue(v.Visible)) + `;
return JSON.stringify({ok:true});
`)
}

func displayValue(visible bool) string {
	if visible {
		return "block"
	}
	return "none"
}

// probeScript evaluates the ad rules and reports the page location and
// playback time with the result.
func probeScript(rules config.AdRules) string {
	return buildIIFE(`
var out = {container:false, containerClass:false, selectors:[], moduleChildren:0, href:String(location.href), currentTime:0};
var player = document.querySelector(` + jsString(rules.Container) + `);
if (!player) {
  return JSON.stringify({ok:true,data:out});
}
out.container = true;
var classes = ` + jsJSON(nonEmpty(rules.ContainerClasses)) + `;
for (var i = 0; i < classes.length; i++) {
  if (player.classList.contains(classes[i])) { out.containerClass = true; }
}
var selectors = ` + jsJSON(nonEmpty(rules.Selectors)) + `;
for (var j = 0; j < selectors.length; j++) {
  try {
    if (player.querySelector(selectors[j])) { out.selectors.push(selectors[j]); }
  } catch (_) {}
}
var moduleSel = ` + jsString(rules.ModuleSelector) + `;
if (moduleSel) {
  var mod = player.querySelector(moduleSel);
  if (mod) { out.moduleChildren = mod.children.length; }
}
var video = player.querySelector("video");
if (video) { out.currentTime = video.currentTime; }
return JSON.stringify({ok:true,data:out});
`)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
