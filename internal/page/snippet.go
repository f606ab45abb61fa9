package page

// ReloadPath is the websocket endpoint the reload snippet connects to.
const ReloadPath = "/__hotreload"

// ReloadSnippet opens the reload channel and reloads the page on any
// message.
const ReloadSnippet = `(function(){` +
	`var s=location.protocol==="https:"?"wss://":"ws://";` +
	`var w=new WebSocket(s+location.host+"` + ReloadPath + `");` +
	`w.onmessage=function(){location.reload();};` +
	`})();`
