package ply

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// SplatRecordSize is the size of one point in the .splat format.
const SplatRecordSize = 32

var splatFields = []string{
	"x", "y", "z",
	"scale_0", "scale_1", "scale_2",
	"rot_0", "rot_1", "rot_2", "rot_3",
	"opacity",
}

// ToSplat converts a Gaussian-splat PLY into the compact .splat layout used
// by web viewers: position f32x3, exp(scale) f32x3, RGBA u8x4 and the
// normalized rotation quaternion u8x4, little endian. Points are ordered by
// descending exp(s0+s1+s2)*sigmoid(opacity).
func ToSplat(data []byte) ([]byte, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	v, err := f.Vertex()
	if err != nil {
		return nil, err
	}
	for _, name := range splatFields {
		if !v.Has(name) {
			return nil, fmt.Errorf("ply: vertex has no %s", name)
		}
	}
	if v.Stride() == 0 {
		return nil, ErrMalformed
	}
	shColor := v.Has("f_dc_0") && v.Has("f_dc_1") && v.Has("f_dc_2")
	rgbColor := v.Has("red") && v.Has("green") && v.Has("blue")
	if !shColor && !rgbColor {
		return nil, ErrNoSHColor
	}

	get := func(i int, name string) float64 {
		x, _ := f.Float(v, i, name)
		return x
	}

	order := make([]int, v.Count)
	importance := make([]float64, v.Count)
	for i := range order {
		order[i] = i
		importance[i] = math.Exp(get(i, "scale_0")+get(i, "scale_1")+get(i, "scale_2")) * sigmoid(get(i, "opacity"))
	}
	sort.SliceStable(order, func(a, b int) bool {
		return importance[order[a]] > importance[order[b]]
	})

	out := make([]byte, 0, v.Count*SplatRecordSize)
	var rec [SplatRecordSize]byte
	for _, i := range order {
		for k, name := range []string{"x", "y", "z"} {
			binary.LittleEndian.PutUint32(rec[k*4:], math.Float32bits(float32(get(i, name))))
		}
		for k, name := range []string{"scale_0", "scale_1", "scale_2"} {
			binary.LittleEndian.PutUint32(rec[12+k*4:], math.Float32bits(float32(math.Exp(get(i, name)))))
		}

		if shColor {
			rec[24] = SHToChannel(get(i, "f_dc_0"))
			rec[25] = SHToChannel(get(i, "f_dc_1"))
			rec[26] = SHToChannel(get(i, "f_dc_2"))
		} else {
			rec[24] = uint8(get(i, "red"))
			rec[25] = uint8(get(i, "green"))
			rec[26] = uint8(get(i, "blue"))
		}
		rec[27] = OpacityToAlpha(get(i, "opacity"))

		q := [4]float64{get(i, "rot_0"), get(i, "rot_1"), get(i, "rot_2"), get(i, "rot_3")}
		norm := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
		if norm == 0 || math.IsNaN(norm) {
			q, norm = [4]float64{1, 0, 0, 0}, 1
		}
		for k := range q {
			rec[28+k] = clampByte(math.Round(q[k]/norm*128 + 128))
		}
		out = append(out, rec[:]...)
	}
	return out, nil
}
