package feature

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Lowe keypoint files start with "<count> <dim>" followed, per keypoint, by
// "y x scale orientation" and dim descriptor components.
const loweValuesPerLine = 20

// Upper bounds on a Lowe header. The header comes from an external process,
// so it is checked before anything is allocated.
const (
	MaxLoweKeypoints = 1 << 24
	MaxLoweDimension = 1024
)

// ReadLowe parses a keypoint stream in Lowe's text format.
func ReadLowe(r io.Reader, image string) (*DescriptorSet, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	next := func(what string) (float64, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return 0, fmt.Errorf("reading %s: %w", what, err)
			}
			return 0, fmt.Errorf("unexpected end of input reading %s", what)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %s: %w", what, err)
		}
		return v, nil
	}

	n, err := next("keypoint count")
	if err != nil {
		return nil, err
	}
	d, err := next("descriptor length")
	if err != nil {
		return nil, err
	}
	if n < 0 || d < 0 || n != math.Trunc(n) || d != math.Trunc(d) {
		return nil, fmt.Errorf("invalid header %v %v", n, d)
	}
	if n > MaxLoweKeypoints || d > MaxLoweDimension {
		return nil, fmt.Errorf("header %v %v exceeds limits (%d keypoints, dimension %d)",
			n, d, MaxLoweKeypoints, MaxLoweDimension)
	}
	if n > 0 && d == 0 {
		return nil, fmt.Errorf("invalid descriptor length 0 for %d keypoints", int(n))
	}

	// Grown while reading: a short stream fails before a large count is paid for.
	set := &DescriptorSet{Image: image}
	for i := range int(n) {
		set.Descriptors = append(set.Descriptors, Descriptor{})
		desc := &set.Descriptors[i]
		if desc.Y, err = next("y"); err != nil {
			return nil, fmt.Errorf("keypoint %d: %w", i, err)
		}
		if desc.X, err = next("x"); err != nil {
			return nil, fmt.Errorf("keypoint %d: %w", i, err)
		}
		if desc.Scale, err = next("scale"); err != nil {
			return nil, fmt.Errorf("keypoint %d: %w", i, err)
		}
		if desc.Orientation, err = next("orientation"); err != nil {
			return nil, fmt.Errorf("keypoint %d: %w", i, err)
		}
		desc.Vector = make([]float32, int(d))
		for j := range desc.Vector {
			v, err := next("descriptor component")
			if err != nil {
				return nil, fmt.Errorf("keypoint %d: %w", i, err)
			}
			desc.Vector[j] = float32(v)
		}
	}
	return set, nil
}

// WriteLowe writes a set in Lowe's text format. Integral components are
// written as integers, anything else in shortest float form.
func WriteLowe(w io.Writer, set *DescriptorSet) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", set.Len(), set.Dim())
	for i := range set.Descriptors {
		desc := &set.Descriptors[i]
		fmt.Fprintf(bw, "%f %f %f %f", desc.Y, desc.X, desc.Scale, desc.Orientation)
		for j, v := range desc.Vector {
			if j%loweValuesPerLine == 0 {
				bw.WriteByte('\n')
			}
			bw.WriteByte(' ')
			if f := float64(v); f == math.Trunc(f) && math.Abs(f) < 1<<53 {
				bw.WriteString(strconv.FormatInt(int64(v), 10))
			} else {
				bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
			}
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing keypoints: %w", err)
	}
	return nil
}
