package plot

// The comment header carries the run provenance the same way the
// artifact does, so a figure stays traceable without the JSON next to it.
const figureTemplate = `% Generated on {{.GeneratedDate}}
%
% Run ID: {{.RunID}}
% Config: {{.ConfigName}} (tool v{{.ToolVersion}})
% Created: {{.Created}}
% Duration: {{printf "%.0f" .DurationMs}}ms
%
% Host Information:
% Hostname: {{.Hostname}}
% CPU: {{.CPUModel}} ({{.Cores}} logical cores)
% L1 Cache: {{.L1KB}}KB
% L2 Cache: {{.L2KB}}KB
% L3 Cache: {{.L3MB}}MB
% Kernel: {{.KernelVersion}}
% OS: {{.OSInfo}}
%
% Classification: {{.Family}} (confidence {{.Confidence}})
% Best Device: {{.BestDevice}}
%
\begin{tikzpicture}
	\begin{axis}[
		% title={ {{.Title}} },
		xlabel={ {{.XLabel}} },
		ylabel={ {{.YLabel}} },
		width=\textwidth,
		height=0.7\textwidth,
{{- if .LogX}}
		xmode=log,
		log basis x=2,
{{- end}}
{{- if .LogY}}
		ymode=log,
{{- end}}
		xmin={{.XMin}}, xmax={{.XMax}},
		ymin={{.YMin}}, ymax={{.YMax}},
		ymajorgrids,
		grid style=dashed,
		legend pos=north west,
	]

{{range .Series}}
% {{.Comment}}
\addplot+[{{.Style}}]
  coordinates {
{{range .Coordinates}}    {{.}}
{{end}}  };
\addlegendentry{ {{.LegendEntry}} }

{{end}}
	\end{axis}
\end{tikzpicture}
`

type figureData struct {
	GeneratedDate string
	RunID         string
	ConfigName    string
	ToolVersion   string
	Created       string
	DurationMs    float64

	Hostname      string
	CPUModel      string
	Cores         int
	L1KB          int
	L2KB          int
	L3MB          float64
	KernelVersion string
	OSInfo        string

	Family     string
	Confidence int
	BestDevice string

	Title  string
	XLabel string
	YLabel string
	LogX   bool
	LogY   bool
	XMin   string
	XMax   string
	YMin   string
	YMax   string

	Series []series
}

type series struct {
	Comment     string
	Style       string
	LegendEntry string
	Coordinates []string
}

const wrapperTemplate = `% Generated on {{.GeneratedDate}}
% Run ID: {{.RunID}}
% Figure: {{.Figure}}
\begin{center}
    \begin{figure}[H]
    \centering
    \resizebox{1\linewidth}{!}{\input{./{{.PlotFileName}} }}
    \caption[{{.ShortCaption}}]{ {{.Caption}} }
    \label{fig:fingerprint-{{.RunShort}}-{{.Figure}}}
    \end{figure}
\end{center}
`

type wrapperFields struct {
	GeneratedDate string
	RunID         string
	RunShort      string
	Figure        string
	PlotFileName  string
	ShortCaption  string
	Caption       string
}
