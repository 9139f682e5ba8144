package pump

// Recipe is an ordered sequence of dispenses run one pump at a
// time.
type Recipe struct {
	Name  string
	Steps []DispenseCommand
}

func steps(flow float64, volumes [NumAxes]float64) []DispenseCommand {
	var out []DispenseCommand
	for i, v := range volumes {
		if v <= 0 {
			continue
		}
		out = append(out, DispenseCommand{Axis: AxisID(i), VolumeML: v, FlowMLMin: flow})
	}
	return out
}

// BuiltinRecipes ships compiled in; there is no persistent recipe
// storage.
var BuiltinRecipes = []Recipe{
	{Name: "Water Flush", Steps: steps(30, [NumAxes]float64{10, 10, 10, 10})},
	{Name: "Color Mix A", Steps: steps(15, [NumAxes]float64{5, 3, 2, 0})},
	{Name: "Color Mix B", Steps: steps(15, [NumAxes]float64{3, 5, 2, 0})},
	{Name: "Nutrient 1:1", Steps: steps(20, [NumAxes]float64{10, 10, 0, 0})},
}
