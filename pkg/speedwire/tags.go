package speedwire

import (
	"fmt"
	"strconv"
)

// TagLabelOrCode renders an SMA tag code, falling back to the decimal code.
func (c *Catalog) TagLabelOrCode(code uint32) string {
	if label, ok := c.TagLabel(code); ok {
		return label
	}
	return strconv.FormatUint(uint64(code), 10)
}

func (c *Catalog) DeviceClassLabel(code uint32) string {
	if label, ok := c.TagLabel(code); ok {
		return label
	}
	return fmt.Sprintf("Unknown device (%d)", code)
}

func (c *Catalog) DeviceTypeLabel(code uint32) string {
	if label, ok := c.TagLabel(code); ok {
		return label
	}
	return fmt.Sprintf("Unknown type (%d)", code)
}

var meterSusyIDs = map[uint16]string{
	270: "Energy Meter",
	349: "Energy Meter 2",
	372: "Sunny Home Manager 2",
}

func (c *Catalog) MeterDeviceName(susyID uint16) string {
	if name, ok := meterSusyIDs[susyID]; ok {
		return name
	}
	if label, ok := c.TagLabel(uint32(susyID)); ok {
		return label
	}
	return "unknown"
}
