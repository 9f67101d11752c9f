package inverter

// Sungrow input register addresses (register number - 1).
const (
	RegSerialNumber   = 4989 // 10 registers, string
	RegDeviceTypeCode = 4999 // U16
	RegNominalPower   = 5000 // U16, 0.1 kW
	RegDailyEnergy    = 5002 // U16, 0.1 kWh
	RegTotalEnergy    = 5003 // U32, 0.1 kWh
	RegTotalDCPower   = 5016 // U32, W
	RegActivePower    = 5030 // U32, W
	RegRunningState   = 5037 // U16

	// the block read in one request, serial number through running state
	blockStart = RegSerialNumber
	blockLen   = RegRunningState - RegSerialNumber + 1
)

const (
	StateStop       = 0x0000
	StateStandby    = 0x8000
	StateStartup    = 0x1300
	StateMPPT       = 0x1400
	StateFault      = 0x1500
	StatePowerLimit = 0x1600
	StateShutdown   = 0x1700
)

func RunningStateString(state uint16) string {
	switch state {
	case StateStop:
		return "Stop"
	case StateStandby:
		return "Standby"
	case StateStartup:
		return "Starting up"
	case StateMPPT:
		return "MPPT"
	case StateFault:
		return "Fault"
	case StatePowerLimit:
		return "Power limiting"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Producing reports whether the state converts PV power to AC.
func Producing(state uint16) bool {
	return state == StateMPPT || state == StatePowerLimit
}
