package models

import "strings"

// DeviceTypeUnknown is returned when no classification rule matches.
const DeviceTypeUnknown = "Unknown"

type deviceRule struct {
	substrings []string
	deviceType string
}

// Classification is substring matching on the lowercased filename. Order
// matters: the first matching rule wins, so "esp32_bk.bin" is ESP, not Beken.
var deviceRules = []deviceRule{
	{[]string{"esp"}, "ESP8266/ESP32"},
	{[]string{"bk", "beken"}, "Beken"},
	{[]string{"rtl"}, "Realtek"},
	{[]string{"mt"}, "MediaTek"},
}

// GuessDeviceType derives a best-effort device classification from the
// uploaded filename.
func GuessDeviceType(filename string) string {
	name := strings.ToLower(filename)
	for _, rule := range deviceRules {
		for _, sub := range rule.substrings {
			if strings.Contains(name, sub) {
				return rule.deviceType
			}
		}
	}
	return DeviceTypeUnknown
}
