package relay

import (
	"net/http"
	"text/template"

	"github.com/softempire/magic-wormhole/config"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>Magic Wormhole Relay</title></head>
<body>
<p>This is a magic-wormhole rendezvous relay.</p>
<p>Websocket endpoint: <code>{{.}}</code></p>
</body>
</html>
`

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

func handleIndex(w http.ResponseWriter, r *http.Request) {
	path := "/v1"
	if config.Opts != nil && config.Opts.Relay.WebSocketPath != "" {
		path = config.Opts.Relay.WebSocketPath
	}

	indexTemplate.Execute(w, "ws://"+r.Host+path)
}
