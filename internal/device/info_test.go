package device

import (
	"errors"
	"strings"
	"testing"
)

func TestParseInfo(t *testing.T) {
	tests := []struct {
		name    string
		topicID string
		payload string
		want    Observation
		wantErr bool
	}{
		{
			name:    "canonical keys",
			topicID: "topic-id",
			payload: `{"udid":"R58M","name":"Lab phone","model":"SM-G991B","os_version":"14","battery_level":64,"connection_type":"network","tags":["samsung"]}`,
			want: Observation{ID: "R58M", Name: "Lab phone", Model: "SM-G991B", OSVersion: "14", BatteryLevel: 64,
				ConnectionType: ConnectionNetwork, Tags: []string{"samsung"}, Source: SourceBus},
		},
		{
			name:    "alternate keys and topic id fallback",
			topicID: "emulator-5554",
			payload: `{"android_version":"13","battery":42.0}`,
			want:    Observation{ID: "emulator-5554", OSVersion: "13", BatteryLevel: 42, ConnectionType: ConnectionBus, Source: SourceBus},
		},
		{
			name:    "device_id key",
			payload: `{"device_id":"d9"}`,
			want:    Observation{ID: "d9", BatteryLevel: BatteryUnknown, ConnectionType: ConnectionBus, Source: SourceBus},
		},
		{
			name:    "invalid battery ignored",
			topicID: "d1",
			payload: `{"battery_level":-5,"connection_type":"carrier-pigeon"}`,
			want:    Observation{ID: "d1", BatteryLevel: BatteryUnknown, ConnectionType: ConnectionBus, Source: SourceBus},
		},
		{name: "no id anywhere", payload: `{}`, wantErr: true},
		{name: "broadcast id", topicID: "*", payload: `{}`, wantErr: true},
		{name: "not json", topicID: "d1", payload: `battery=50`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInfo(tt.topicID, []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidObservation) {
					t.Errorf("error = %v, want ErrInvalidObservation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInfo() error = %v", err)
			}
			if got.ID != tt.want.ID || got.Name != tt.want.Name || got.Model != tt.want.Model ||
				got.OSVersion != tt.want.OSVersion || got.BatteryLevel != tt.want.BatteryLevel ||
				got.ConnectionType != tt.want.ConnectionType || got.Source != tt.want.Source ||
				strings.Join(got.Tags, ",") != strings.Join(tt.want.Tags, ",") {
				t.Errorf("ParseInfo() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInfoHandler(t *testing.T) {
	r, _ := newTestRegistry(t)
	idFromTopic := func(topic string) (string, bool) {
		parts := strings.Split(topic, "/")
		if len(parts) != 4 {
			return "", false
		}
		return parts[2], true
	}
	handle := InfoHandler(r, idFromTopic)

	if err := handle("fleet/device/pixel-7/info", []byte(`{"model":"Pixel 7","battery_level":77}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	d, err := r.GetDevice("pixel-7")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.Model != "Pixel 7" || d.BatteryLevel != 77 || d.ConnectionType != ConnectionBus || !d.Online {
		t.Errorf("device = %+v", d)
	}

	if err := handle("fleet/device/x/info", []byte(`not json`)); err == nil {
		t.Error("handler accepted malformed payload")
	}
}
