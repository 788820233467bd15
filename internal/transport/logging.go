// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"fmt"

	applog "instrument/internal/log"
)

// LoggingTransport writes each report to the log as JSON at debug level.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

func (lt *LoggingTransport) Send(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", data, err)
	}
	applog.Debugf("Transport: %s", b)
	return nil
}

func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
