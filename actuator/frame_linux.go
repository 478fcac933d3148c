package actuator

import (
	"encoding/binary"
	"math"

	"github.com/go-daq/canbus"
)

// Motor controller addressing. Each motor listens on cmdBaseID+motorID and each module reports
// on statusBaseID+driveMotorID.
const (
	cmdBaseID    uint32 = 0x300
	statusBaseID uint32 = 0x400
	gyroStatusID uint32 = 0x480

	// Scalars shared by commands and telemetry. Drive speeds and travel are in motor units.
	rpmScalar      = 0.5       // motor rpm per bit
	voltageScalar  = 0.001     // V per bit
	angleScalar    = 0.0078125 // degrees per bit
	rotationScalar = 0.001     // motor rotations per bit
	yawScalar      = 0.001     // degrees per bit

	kNumBitsPerByte = 8
)

type motorMode byte

const (
	modeSpeed motorMode = iota
	modeAbsolute
	modeRelative
	modeCurrent
	modeVoltage
)

type motorState byte

const (
	stateDisabled motorState = iota
	stateEnabled
	stateBrake
)

// motorCommand is the payload sent to one motor controller.
type motorCommand struct {
	motorID      int
	state        motorState
	mode         motorMode
	setpoint     float64
	currentLimit uint8
}

// clampInt16 saturates v to the int16 range rather than wrapping.
func clampInt16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

// toFrame converts the command to a canbus data frame.
func (cmd motorCommand) toFrame() canbus.Frame {
	frame := canbus.Frame{
		ID:   cmdBaseID + uint32(cmd.motorID),
		Data: make([]byte, 8),
		Kind: canbus.SFF,
	}

	var scalar float64
	switch cmd.mode {
	case modeSpeed:
		scalar = rpmScalar
	case modeVoltage:
		scalar = voltageScalar
	default:
		scalar = angleScalar
	}

	frame.Data[0] = byte(cmd.state) | byte(cmd.mode)<<4
	binary.LittleEndian.PutUint16(frame.Data[1:3], uint16(clampInt16(cmd.setpoint/scalar)))
	frame.Data[3] = cmd.currentLimit
	return frame
}

// getByteBitMask returns the mask selecting the signal's bits within one payload byte.
func getByteBitMask(byteNum, bitSigLsb, bitSigMsb uint8) uint8 {
	bitByteLsb := int32(byteNum) * kNumBitsPerByte
	bitByteMsb := (int32(byteNum)+1)*kNumBitsPerByte - 1

	var bitMaskLsb, bitMaskMsb uint8
	if int32(bitSigLsb) > bitByteLsb {
		bitMaskLsb = uint8(int32(bitSigLsb) - bitByteLsb)
	}
	if int32(bitSigMsb) >= bitByteMsb {
		bitMaskMsb = kNumBitsPerByte - 1
	} else {
		bitMaskMsb = uint8(int32(bitSigMsb) - bitByteLsb)
	}

	return uint8((math.MaxUint8 << (bitMaskMsb + 1)) ^ (math.MaxUint8 << bitMaskLsb))
}

// canSignal describes where a value sits in a telemetry payload.
type canSignal struct {
	scalar       float64
	offset       float64
	start        uint8 // first bit
	length       uint8 // bits, at most 32
	littleEndian bool
	signed       bool
}

// extract decodes the signal from data.
func (sig canSignal) extract(data []byte) float64 {
	lsb := sig.start
	msb := lsb + sig.length - 1
	byteStart := lsb / kNumBitsPerByte
	byteStop := msb / kNumBitsPerByte
	if int(byteStop) >= len(data) {
		return math.NaN()
	}

	var raw uint32
	for i := byteStart; i <= byteStop; i++ {
		var shift uint8
		if sig.littleEndian {
			shift = i - byteStart
		} else {
			shift = byteStop - i
		}
		raw += (uint32(getByteBitMask(i, lsb, msb)) & uint32(data[i])) << (shift * kNumBitsPerByte)
	}
	raw >>= lsb - kNumBitsPerByte*byteStart

	value := float64(raw)
	if sig.signed {
		signBit := msb - byteStart*kNumBitsPerByte
		if raw&(1<<signBit) != 0 && signBit < 31 {
			raw |= math.MaxUint32 << (signBit + 1)
		}
		value = float64(int32(raw))
	}
	return value*sig.scalar + sig.offset
}

var (
	canSignalDriveRPM       = canSignal{scalar: rpmScalar, start: 0, length: 16, littleEndian: true, signed: true}
	canSignalModuleAngle    = canSignal{scalar: angleScalar, start: 16, length: 16, littleEndian: true, signed: true}
	canSignalDriveRotations = canSignal{scalar: rotationScalar, start: 32, length: 32, littleEndian: true, signed: true}
	canSignalGyroYaw        = canSignal{scalar: yawScalar, start: 0, length: 32, littleEndian: true, signed: true}
)
