package protocol

// Command codes. These are wire constants of the device protocol and must
// match the firmware exactly.
const (
	CMD_GET_STATUS        uint16 = 0x0005
	CMD_SET_EXCHANGE      uint16 = 0x0007
	CMD_GET_VERSION       uint16 = 0x000A
	CMD_GET_SERIAL        uint16 = 0x000B
	CMD_FW_SIGNATURE      uint16 = 0x0101
	CMD_RD_FLASH          uint16 = 0x081C
	CMD_RD_VIRT_SFR       uint16 = 0x0824
	CMD_WR_VIRT_SFR       uint16 = 0x0825
	CMD_RD_VIRT_STRING    uint16 = 0x0826
	CMD_WR_VIRT_STRING    uint16 = 0x0827
	CMD_RD_VIRT_SFR_BATCH uint16 = 0x082A
	CMD_WR_VIRT_SFR_BATCH uint16 = 0x082B
	CMD_SET_TIME          uint16 = 0x0A04
	CMD_SET_LOCAL_TIME    uint16 = 0x0A05
)

// Virtual string IDs. A virtual string is a named binary blob on the device,
// read and written with a length-prefixed protocol separate from the VSFRs.
const (
	VS_CONFIGURATION uint32 = 0x0002
	VS_DATA_BUF      uint32 = 0x0100 // telemetry ring buffer
	VS_SPECTRUM      uint32 = 0x0200 // live spectrum snapshot
	VS_SPEC_ACCUM    uint32 = 0x0201 // accumulated spectrum
	VS_ENERGY_CALIB  uint32 = 0x0202
	VS_TEXT_MESSAGE  uint32 = 0x0500
)

// Virtual register (VSFR) IDs. All known registers hold an unsigned 32-bit
// little-endian value.
const (
	// Device control
	VSFR_DEVICE_CTRL uint32 = 0x0500
	VSFR_DEVICE_LANG uint32 = 0x0502
	VSFR_DEVICE_ON   uint32 = 0x0503
	VSFR_DEVICE_TIME uint32 = 0x0504

	// Display
	VSFR_DISP_CTRL      uint32 = 0x0510
	VSFR_DISP_BRT       uint32 = 0x0511
	VSFR_DISP_CONTR     uint32 = 0x0512
	VSFR_DISP_OFF_TIME  uint32 = 0x0513
	VSFR_DISP_ON        uint32 = 0x0514
	VSFR_DISP_DIR       uint32 = 0x0515
	VSFR_DISP_BACKLT_ON uint32 = 0x0516

	// Sound
	VSFR_SOUND_CTRL uint32 = 0x0520
	VSFR_SOUND_VOL  uint32 = 0x0521
	VSFR_SOUND_ON   uint32 = 0x0522

	// Vibration
	VSFR_VIBRO_CTRL uint32 = 0x0530
	VSFR_VIBRO_ON   uint32 = 0x0531

	// LEDs
	VSFR_LEDS_CTRL uint32 = 0x0540
	VSFR_LED0_BRT  uint32 = 0x0541
	VSFR_LED1_BRT  uint32 = 0x0542

	// Dosimetry alarm thresholds (level 1 warning, level 2 alarm)
	VSFR_CR_LEV1 uint32 = 0x05A0 // count rate, raw counts per 10 s
	VSFR_CR_LEV2 uint32 = 0x05A1
	VSFR_DR_LEV1 uint32 = 0x05A2 // dose rate, raw device units
	VSFR_DR_LEV2 uint32 = 0x05A3
	VSFR_DS_LEV1 uint32 = 0x05A4 // accumulated dose, raw device units
	VSFR_DS_LEV2 uint32 = 0x05A5

	// Unit configuration
	VSFR_DS_UNITS uint32 = 0x05A6 // 0 = Sievert, 1 = Roentgen
	VSFR_CR_UNITS uint32 = 0x05A7 // 0 = cps, 1 = cpm

	// System info
	VSFR_MS_MODE  uint32 = 0x05C0
	VSFR_SYS_SIGN uint32 = 0x05C8
)

// RetcodeOK is the device's success code for virtual string and register
// operations.
const RetcodeOK uint32 = 1

// ExchangePayload is the fixed capability-negotiation payload sent with
// CMD_SET_EXCHANGE during the initialization handshake.
var ExchangePayload = []byte{0x01, 0xFF, 0x12, 0xFF}
