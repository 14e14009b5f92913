package web

import (
	"fmt"
	"html/template"
)

// liveScript reloads the page once the dataset or view moves past what the
// page was rendered with. It navigates to the bare path so share
// parameters are not loaded again.
func liveScript(dataVersion, viewRev uint64) string {
	return fmt.Sprintf(`(function(){var d=%d,v=%d;`+
		`var ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/live");`+
		`ws.onmessage=function(m){var e=JSON.parse(m.data);`+
		`if((e.type==="dataset"&&e.version>d)||(e.type==="view"&&e.version>v)){location.replace(location.pathname);}};})();`,
		dataVersion, viewRev)
}

const pageHead = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:system-ui,sans-serif;margin:2rem;color:#222}main{max-width:60rem}</style>
</head><body><main>`

const pageFoot = `</main></body></html>`

type uploadData struct {
	MaxUploadMB int64
}

func (uploadData) Title() string { return "scattershare" }

var uploadPage = template.Must(template.New("upload").Parse(pageHead + `
<h1>scattershare</h1>
<p>Upload a spreadsheet with columns X, Y, Z, label and an optional color.</p>
<form method="post" action="/upload" enctype="multipart/form-data">
<input type="file" name="file" accept=".csv,.tsv,.xlsx" required>
<button type="submit">Plot</button>
</form>
<p><small>CSV, TSV or XLSX, up to {{.MaxUploadMB}} MB. The first row is a header.</small></p>
` + pageFoot))

type waitingData struct {
	Received  int
	Total     int
	Duplicate bool
}

func (waitingData) Title() string { return "Waiting for chunks" }

var waitingPage = template.Must(template.New("waiting").Parse(pageHead + `
<h1>Collecting shared data</h1>
<p>Received {{.Received}} of {{.Total}} links.{{if .Duplicate}} This link was already opened.{{end}}</p>
<p>Open the remaining links of this share in this browser.</p>
` + pageFoot))

type chartData struct {
	Title  string
	Chart  template.HTML
	Script template.JS
}

var chartPage = template.Must(template.New("chart").Parse(pageHead + `
{{.Chart}}
<p><a href="/chart?format=svg" download="chart.svg">Download SVG</a> · <a href="/chart?format=png" download="chart.png">Download PNG</a></p>
{{if .Script}}<script>{{.Script}}</script>{{end}}
` + pageFoot))
