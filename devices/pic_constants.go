package devices

// 8259A PIC I/O port addresses.
const (
	PIC_MASTER_CMD_PORT  uint16 = 0x20
	PIC_MASTER_DATA_PORT uint16 = 0x21
	PIC_SLAVE_CMD_PORT   uint16 = 0xA0
	PIC_SLAVE_DATA_PORT  uint16 = 0xA1
)

// Standard PC IRQ line assignments.
const (
	PIT_IRQ      uint8 = 0
	KEYBOARD_IRQ uint8 = 1
	CASCADE_IRQ  uint8 = 2
	RTC_IRQ      uint8 = 8 // slave IRQ0
)

// RTC/CMOS port and register constants.
const (
	RTC_PORT_INDEX uint16 = 0x70
	RTC_PORT_DATA  uint16 = 0x71

	RTC_REG_SECONDS     byte = 0x00
	RTC_REG_MINUTES     byte = 0x02
	RTC_REG_HOURS       byte = 0x04
	RTC_REG_DAY_OF_WEEK byte = 0x06
	RTC_REG_DAY_OF_MONTH byte = 0x07
	RTC_REG_MONTH       byte = 0x08
	RTC_REG_YEAR        byte = 0x09

	RTC_REG_A byte = 0x0A
	RTC_REG_B byte = 0x0B
	RTC_REG_C byte = 0x0C
	RTC_REG_D byte = 0x0D

	RTC_B_PIE  byte = 0x40
	RTC_C_IRQF byte = 0x80
	RTC_C_PF   byte = 0x40
)

// PIT ports and control-word fields.
const (
	PIT_PORT_COUNTER0 uint16 = 0x40
	PIT_PORT_COUNTER1 uint16 = 0x41
	PIT_PORT_COUNTER2 uint16 = 0x42
	PIT_PORT_COMMAND  uint16 = 0x43
	PIT_PORT_PPI_B    uint16 = 0x61

	PIT_RW_LATCH byte = 0x00
	PIT_RW_LSB   byte = 0x01
	PIT_RW_MSB   byte = 0x02
	PIT_RW_LOHI  byte = 0x03
)

// Keyboard controller (8042) ports.
const (
	KEYBOARD_PORT_DATA   uint16 = 0x60
	KEYBOARD_PORT_STATUS uint16 = 0x64
	A20_PORT_92          uint16 = 0x92
)
