// ABOUTME: Device package documentation
// ABOUTME: Simulated ESP32 microphone for exercising a relay without hardware
// Package device simulates an ESP32 microphone. It connects to a relay as a
// producer, streams PCM or IMA ADPCM packets from a tone or MP3 source, and
// obeys mic_on, mic_off and mic_check like the firmware does.
package device
