// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func getCounterValue(counter prometheus.Counter) float64 {
	var m io_prometheus_client.Metric
	if err := counter.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(gauge prometheus.Gauge) float64 {
	var m io_prometheus_client.Metric
	if err := gauge.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestRecordRedemption(t *testing.T) {
	t.Run("empty_code_counts_as_success", func(t *testing.T) {
		before := getCounterValue(Redemptions.WithLabelValues("success"))
		RecordRedemption("")
		if after := getCounterValue(Redemptions.WithLabelValues("success")); after != before+1 {
			t.Errorf("success counter = %v, want %v", after, before+1)
		}
	})

	t.Run("denial_code_used_as_label", func(t *testing.T) {
		before := getCounterValue(Redemptions.WithLabelValues("NONCE_ALREADY_USED"))
		RecordRedemption("NONCE_ALREADY_USED")
		if after := getCounterValue(Redemptions.WithLabelValues("NONCE_ALREADY_USED")); after != before+1 {
			t.Errorf("denial counter = %v, want %v", after, before+1)
		}
	})
}

func TestRecordAPIRequest(t *testing.T) {
	before := getCounterValue(APIRequestsTotal.WithLabelValues("POST", "/api/v1/sessions", "201"))
	RecordAPIRequest("POST", "/api/v1/sessions", "201", 5*time.Millisecond)
	if after := getCounterValue(APIRequestsTotal.WithLabelValues("POST", "/api/v1/sessions", "201")); after != before+1 {
		t.Errorf("requests counter = %v, want %v", after, before+1)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := getGaugeValue(APIActiveRequests)
	TrackActiveRequest(true)
	if got := getGaugeValue(APIActiveRequests); got != before+1 {
		t.Errorf("active = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
	if got := getGaugeValue(APIActiveRequests); got != before {
		t.Errorf("active = %v, want %v", got, before)
	}
}
