package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/boxing-sensor/internal/logic"
	"github.com/sweeney/boxing-sensor/internal/status"
)

// recentPunches is how many log rows the page shows.
const recentPunches = 10

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"force": func(f float64) string {
		return fmt.Sprintf("%.2f", f)
	},
	"stateClass": func(s string) string {
		switch s {
		case "STREAMING":
			return "connected"
		case "CONNECTING":
			return "pending"
		case "ERROR":
			return "disconnected"
		default:
			return "idle"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Boxing Sensor</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.big { font-size: 2em; font-weight: bold; }
.hit { color: #c00; font-weight: bold; }
.connected { color: green; }
.pending { color: orange; }
.disconnected { color: red; }
.idle { color: #888; }
form { display: inline; }
button { font-family: monospace; margin-right: 4px; }
</style>
</head>
<body>
<h1>Boxing Sensor</h1>

<h2>Connection</h2>
<table>
<tr><th>State</th><td id="conn-state" class="{{stateClass .State}}">{{.State}}</td></tr>
<tr><th>Device</th><td>{{.View.Connection.Device}}</td></tr>
{{if .View.Connection.Err}}<tr><th>Error</th><td class="disconnected">{{.View.Connection.Err}}</td></tr>{{end}}
</table>
{{if .Controls}}
<p>
<form method="post" action="/api/connect"><button>Connect</button></form>
<form method="post" action="/api/disconnect"><button>Disconnect</button></form>
<form method="post" action="/api/reset"><button>Reset</button></form>
<form method="post" action="/api/calibrate"><button>Calibrate</button></form>
</p>
{{end}}

<h2>Session</h2>
<table>
<tr><th>Total punches</th><td id="total" class="big">{{.View.Snapshot.TotalPunches}}</td></tr>
<tr><th>Training time</th><td id="training">{{uptime .View.Snapshot.TrainingElapsed}}</td></tr>
<tr><th>Peak force</th><td>{{force .View.Log.PeakForce}}</td></tr>
<tr><th>Average force</th><td>{{force .AverageForce}}</td></tr>
<tr><th>Missed</th><td>{{.View.Log.MissedPunches}}</td></tr>
<tr><th>Calibrated</th><td>{{if .View.Snapshot.CalibrationComplete}}yes{{else}}no{{end}}</td></tr>
<tr><th>Threshold</th><td>{{force .View.Snapshot.DetectionThreshold}}</td></tr>
<tr><th>Session</th><td>{{.View.Snapshot.SessionID}}</td></tr>
</table>

<h2>Channels</h2>
<table>
<tr><th>Zone</th><td>Current</td><td>Max</td><td>Punches</td></tr>
{{range .Channels}}<tr><th>{{.Zone}}</th><td class="{{if .Detected}}hit{{end}}">{{force .Current}}</td><td>{{force .Maximum}}</td><td>{{.PunchCount}}</td></tr>
{{end}}</table>

{{if .Recent}}
<h2>Recent punches</h2>
<table>
<tr><th>#</th><td>Zone</td><td>Force</td><td>Cadence</td></tr>
{{range .Recent}}<tr><th>{{.SequenceNumber}}</th><td>{{.Zone}}</td><td>{{force .DerivedForce}}</td><td>{{if .Cadence}}{{.Cadence}}{{end}}</td></tr>
{{end}}</table>
{{end}}

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}} {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Lines</th><td>{{.View.Stats.Lines}} ({{.View.Stats.DecodeErrors}} rejected)</td></tr>
{{if .LastArchive}}<tr><th>Last archive</th><td>{{.LastArchive}}</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> <a href="/session.json">Session log</a></p>
<script>
(function() {
  var total = document.getElementById("total");
  var state = document.getElementById("conn-state");
  setInterval(function() {
    fetch("/index.json").then(function(r) { return r.json(); }).then(function(j) {
      total.textContent = j.status.session.total_punches;
      state.textContent = j.status.connection.state;
    }).catch(function() {});
  }, 1000);
})();
</script>
</body>
</html>
`

type channelRow struct {
	logic.ChannelReading
	Zone string
}

func renderHTML(w io.Writer, snap status.Snapshot, controls bool) error {
	zones := snap.Config.Zones
	if zones == (logic.Zones{}) {
		zones = logic.DefaultZones()
	}
	channels := make([]channelRow, 0, len(logic.Channels))
	for _, c := range logic.Channels {
		channels = append(channels, channelRow{ChannelReading: snap.View.Snapshot.Channel(c), Zone: zones.Label(c)})
	}

	// Newest first.
	records := snap.View.Log.Records
	recent := make([]logic.PunchRecord, 0, recentPunches)
	for i := len(records) - 1; i >= 0 && len(recent) < recentPunches; i-- {
		recent = append(recent, records[i])
	}

	data := struct {
		status.Snapshot
		State        string
		Uptime       time.Duration
		AverageForce float64
		Channels     []channelRow
		Recent       []logic.PunchRecord
		Controls     bool
	}{
		Snapshot:     snap,
		State:        string(snap.View.Connection.State),
		Uptime:       snap.Uptime(),
		AverageForce: snap.View.Log.AverageForce(),
		Channels:     channels,
		Recent:       recent,
		Controls:     controls,
	}
	return indexTmpl.Execute(w, data)
}
