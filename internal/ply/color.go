package ply

import (
	"errors"
	"math"
)

// SHC0 is the zeroth-order spherical-harmonic basis constant, sqrt(1/(4*pi)).
const SHC0 = 0.28209479177387814

// ErrNoSHColor means the vertex element carries no f_dc_0..2 coefficients.
var ErrNoSHColor = errors.New("ply: vertex has no spherical-harmonic DC color")

// SHToChannel maps a DC coefficient to an 8-bit display channel.
// NaN is treated as 0.
func SHToChannel(c float64) uint8 {
	if math.IsNaN(c) {
		c = 0
	}
	return clampByte(math.Round((0.5 + SHC0*c) * 255))
}

// OpacityToAlpha maps an opacity logit to an 8-bit alpha through the sigmoid.
func OpacityToAlpha(o float64) uint8 {
	if math.IsNaN(o) {
		o = 0
	}
	return clampByte(math.Round(sigmoid(o) * 255))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// AddDisplayColors appends red, green, blue and alpha uchar properties to
// every vertex, derived from f_dc_0..2 and opacity. Every other property and
// element is carried over untouched. A file that already has display colors
// is returned as is with changed=false.
func AddDisplayColors(data []byte) (out []byte, changed bool, err error) {
	f, err := Parse(data)
	if err != nil {
		return nil, false, err
	}
	v, err := f.Vertex()
	if err != nil {
		return nil, false, err
	}
	if v.Has("red") || v.Has("green") || v.Has("blue") {
		return data, false, nil
	}
	for _, name := range []string{"f_dc_0", "f_dc_1", "f_dc_2"} {
		if !v.Has(name) {
			return nil, false, ErrNoSHColor
		}
	}
	stride := v.Stride()
	if stride == 0 {
		return nil, false, ErrMalformed
	}

	withAlpha := !v.Has("alpha")
	_, _, hasOpacity := v.Offset("opacity")
	extra := 3
	if withAlpha {
		extra = 4
	}

	body := make([]byte, 0, v.Count*(stride+extra))
	for i := 0; i < v.Count; i++ {
		body = append(body, v.Data[i*stride:(i+1)*stride]...)
		for _, name := range []string{"f_dc_0", "f_dc_1", "f_dc_2"} {
			c, _ := f.Float(v, i, name)
			body = append(body, SHToChannel(c))
		}
		if withAlpha {
			a := uint8(255)
			if hasOpacity {
				o, _ := f.Float(v, i, "opacity")
				a = OpacityToAlpha(o)
			}
			body = append(body, a)
		}
	}

	v.Properties = append(v.Properties,
		Property{Name: "red", Type: "uchar"},
		Property{Name: "green", Type: "uchar"},
		Property{Name: "blue", Type: "uchar"},
	)
	if withAlpha {
		v.Properties = append(v.Properties, Property{Name: "alpha", Type: "uchar"})
	}
	v.Data = body
	return f.Encode(), true, nil
}
