package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the gammalink configuration
type Config struct {
	filename string

	// Device section
	transport      string // "auto", "usb" or "ble"
	timeoutSeconds uint32
	spectrumFormat uint32
	doseRateScale  float64
	deviceDebug    bool

	// USB section
	usbDebug bool

	// BLE section
	bleDebug bool

	// Storage section
	storageEnabled bool
	storagePath    string
	storageBatch   uint32

	// Monitor section
	monitorInterval uint32
	monitorDuration uint32
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,
		// Set reasonable defaults
		transport:      "auto",
		timeoutSeconds: 10,
		spectrumFormat: 1,
		doseRateScale:  0, // 0 means use the built-in default

		storageEnabled: false,
		storagePath:    "data/gammalink.db",
		storageBatch:   32,

		monitorInterval: 1,
		monitorDuration: 0, // 0 means run until interrupted
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %v", c.filename, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	return c.parseINIScanner(scanner)
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIScanner(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		// Check for section header
		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		// Parse key=value pairs
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch currentSection {
		case "Device":
			c.parseDeviceSection(key, value)
		case "USB":
			c.parseUSBSection(key, value)
		case "BLE":
			c.parseBLESection(key, value)
		case "Storage":
			c.parseStorageSection(key, value)
		case "Monitor":
			c.parseMonitorSection(key, value)
		}
	}

	return scanner.Err()
}

func (c *Config) parseDeviceSection(key, value string) {
	switch key {
	case "Transport":
		v := strings.ToLower(value)
		if v == "auto" || v == "usb" || v == "ble" {
			c.transport = v
		}
	case "TimeoutSeconds":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.timeoutSeconds = uint32(v)
		}
	case "SpectrumFormat":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.spectrumFormat = uint32(v)
		}
	case "DoseRateScale":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.doseRateScale = v
		}
	case "Debug":
		c.deviceDebug = c.parseBool(value)
	}
}

func (c *Config) parseUSBSection(key, value string) {
	switch key {
	case "Debug":
		c.usbDebug = c.parseBool(value)
	}
}

func (c *Config) parseBLESection(key, value string) {
	switch key {
	case "Debug":
		c.bleDebug = c.parseBool(value)
	}
}

func (c *Config) parseStorageSection(key, value string) {
	switch key {
	case "Enabled":
		c.storageEnabled = c.parseBool(value)
	case "Path":
		c.storagePath = value
	case "BatchSize":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.storageBatch = uint32(v)
		}
	}
}

func (c *Config) parseMonitorSection(key, value string) {
	switch key {
	case "IntervalSeconds":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.monitorInterval = uint32(v)
		}
	case "DurationSeconds":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.monitorDuration = uint32(v)
		}
	}
}

func (c *Config) parseBool(value string) bool {
	return value == "1" || strings.ToLower(value) == "true" || strings.ToLower(value) == "yes"
}

// Getter methods for Device section
func (c *Config) GetTransport() string      { return c.transport }
func (c *Config) GetTimeoutSeconds() uint32 { return c.timeoutSeconds }
func (c *Config) GetSpectrumFormat() uint32 { return c.spectrumFormat }
func (c *Config) GetDoseRateScale() float64 { return c.doseRateScale }
func (c *Config) GetDeviceDebug() bool      { return c.deviceDebug }

// Getter methods for USB/BLE sections
func (c *Config) GetUSBDebug() bool { return c.usbDebug }
func (c *Config) GetBLEDebug() bool { return c.bleDebug }

// Getter methods for Storage section
func (c *Config) GetStorageEnabled() bool { return c.storageEnabled }
func (c *Config) GetStoragePath() string  { return c.storagePath }
func (c *Config) GetStorageBatch() uint32 { return c.storageBatch }

// Getter methods for Monitor section
func (c *Config) GetMonitorInterval() uint32 { return c.monitorInterval }
func (c *Config) GetMonitorDuration() uint32 { return c.monitorDuration }
