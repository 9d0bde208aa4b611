package transport

import "fmt"

// RFCOMMAddr is a Bluetooth device address plus RFCOMM channel.
// BDAddr is stored little-endian, as the kernel hands it over.
type RFCOMMAddr struct {
	BDAddr  [6]byte
	Channel uint8
}

func (a RFCOMMAddr) Network() string { return "rfcomm" }

// String renders "[AA:BB:CC:DD:EE:FF]:channel".
func (a RFCOMMAddr) String() string {
	return fmt.Sprintf("[%s]:%d", a.Device(), a.Channel)
}

// Device renders the address in the usual most-significant-first form.
func (a RFCOMMAddr) Device() string {
	b := a.BDAddr
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[5], b[4], b[3], b[2], b[1], b[0])
}
