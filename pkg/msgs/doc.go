// Package msgs defines the wire messages of the MQTT virtual cable.
package msgs
