// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Used to bring capture sources to the device sample rate
package resample

// Resampler performs linear interpolation to convert between sample rates.
// State carries over between calls so chunked input resamples seamlessly.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64 // read position relative to the first frame of the next input
	lastFrame  []int16 // final frame of the previous chunk, one sample per channel
	havePrev   bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]int16, channels),
	}
}

// Resample converts interleaved input at inputRate to interleaved output at
// outputRate and returns the number of samples written to output.
func (r *Resampler) Resample(input []int16, output []int16) int {
	if len(input) == 0 {
		return 0
	}

	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels

	// frame i of the virtual stream: -1 is the previous chunk's last frame
	frame := func(i, ch int) float64 {
		if i < 0 {
			return float64(r.lastFrame[ch])
		}
		return float64(input[i*r.channels+ch])
	}

	pos := r.position
	if !r.havePrev && pos < 0 {
		pos = 0
	}

	outIdx := 0
	for outIdx < outputFrames {
		idx := int(pos)
		if pos < 0 {
			idx = -1
		}
		if idx+1 >= inputFrames {
			break
		}

		frac := pos - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := frame(idx, ch)
			s2 := frame(idx+1, ch)
			output[outIdx*r.channels+ch] = int16(s1*(1.0-frac) + s2*frac)
		}

		outIdx++
		pos += r.ratio
	}

	// Rebase so the last frame of this chunk becomes index -1
	r.position = pos - float64(inputFrames)
	copy(r.lastFrame, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	r.havePrev = true

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.havePrev = false
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded returns an output buffer size large enough for input
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 2
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples produce outputSamples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames)*r.ratio) + 1
	return inputFrames * r.channels
}
