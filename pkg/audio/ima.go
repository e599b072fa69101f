// ABOUTME: IMA ADPCM tables shared by the encoder and decoder
// ABOUTME: 89-entry step table and 16-entry index adjustment table
package audio

// ADPCMMaxIndex is the largest valid step table index
const ADPCMMaxIndex = 88

// ADPCMStepTable holds the IMA quantizer step sizes
var ADPCMStepTable = [ADPCMMaxIndex + 1]int32{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

// ADPCMIndexTable maps a 4-bit code to its step index adjustment
var ADPCMIndexTable = [16]int32{
	-1, -1, -1, -1, 2, 4, 6, 8,
	-1, -1, -1, -1, 2, 4, 6, 8,
}

// ADPCMState is the predictor state carried between nibbles
type ADPCMState struct {
	Predicted int32
	Index     int32
}

// Apply reconstructs one sample from a 4-bit code and advances the state.
// The encoder and decoder share it so both sides track the same predictor.
func (s *ADPCMState) Apply(code byte) int16 {
	step := ADPCMStepTable[s.Index]

	diff := step >> 3
	if code&4 != 0 {
		diff += step
	}
	if code&2 != 0 {
		diff += step >> 1
	}
	if code&1 != 0 {
		diff += step >> 2
	}

	if code&8 != 0 {
		s.Predicted -= diff
	} else {
		s.Predicted += diff
	}
	if s.Predicted > 32767 {
		s.Predicted = 32767
	} else if s.Predicted < -32768 {
		s.Predicted = -32768
	}

	s.Index += ADPCMIndexTable[code&0x0F]
	if s.Index < 0 {
		s.Index = 0
	} else if s.Index > ADPCMMaxIndex {
		s.Index = ADPCMMaxIndex
	}

	return int16(s.Predicted)
}
