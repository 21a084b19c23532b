package protocol

// Firmware contract of the ArduinoMotorEAI sketch.
const (
	DeviceName       = "ArduinoMotorEAI"
	ServiceUUID      = "19b10000-e8f2-537e-4f6c-d104768a1214"
	CommandCharUUID  = "19b10001-e8f2-537e-4f6c-d104768a1214"
	DistanceCharUUID = "19b10002-e8f2-537e-4f6c-d104768a1214"

	// CCCDUUID is the standard Client Characteristic Configuration descriptor.
	CCCDUUID = "00002902-0000-1000-8000-00805f9b34fb"
)

// EnableNotificationValue is written to the CCCD to turn notifications on.
var EnableNotificationValue = []byte{0x01, 0x00}
