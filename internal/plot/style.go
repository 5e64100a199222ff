package plot

// Style is a pgfplots line specification.
type Style struct {
	Color       string
	LineStyle   string
	LineWidth   string
	Mark        string
	MarkOptions string
}

var seriesStyles = []Style{
	{Color: "blue", LineStyle: "solid", LineWidth: "thick", Mark: "*", MarkOptions: "scale=0.5,fill=blue"},
	{Color: "red", LineStyle: "densely dashed", LineWidth: "thick", Mark: "square*", MarkOptions: "scale=0.4,fill=red"},
	{Color: "green!70!black", LineStyle: "densely dotted", LineWidth: "thick", Mark: "triangle*", MarkOptions: "scale=0.5,fill=green!70!black"},
	{Color: "gray", LineStyle: "dashed", LineWidth: "semithick", Mark: "none", MarkOptions: ""},
}

func seriesStyle(index int) Style {
	if index < 0 {
		index = 0
	}
	return seriesStyles[index%len(seriesStyles)]
}

func (s Style) ToTikzOptions() string {
	options := s.Color
	if s.LineStyle != "" {
		options += "," + s.LineStyle
	}
	if s.LineWidth != "" {
		options += "," + s.LineWidth
	}
	if s.Mark != "none" && s.Mark != "" {
		options += ",mark=" + s.Mark
		if s.MarkOptions != "" {
			options += ",mark options={" + s.MarkOptions + "}"
		}
	}
	return options
}
