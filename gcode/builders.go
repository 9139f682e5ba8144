package gcode

// Zero emits "G92 <axis>0", resetting the controller's idea of the
// axis position before a dispense.
func Zero(axis byte) Block {
	return Block{
		{W: 'G', Arg: 92},
		{W: axis, Arg: 0, Prec: -1},
	}
}

// Move emits "G1 <axis><dist> F<feed>" with the fixed dispense
// precision (distance 2 decimals, feedrate 1).
func Move(axis byte, dist, feed float64) Block {
	return Block{
		{W: 'G', Arg: 1},
		{W: axis, Arg: dist},
		{W: 'F', Arg: feed},
	}
}

// Jog emits a relative one-shot nudge bracketed by G91/G90.
func Jog(axis byte, delta, feed float64) []Block {
	return []Block{
		{{W: 'G', Arg: 91}},
		{{W: 'G', Arg: 0}, {W: axis, Arg: delta}, {W: 'F', Arg: feed}},
		{{W: 'G', Arg: 90}},
	}
}
