// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
//go:build roaringstats
// +build roaringstats

package roaring

import (
	"github.com/DataDog/datadog-go/statsd"
)

var statsClient, _ = statsd.New("127.0.0.1:8125", statsd.WithNamespace("roaring."))

// statsHit increments the given stat, so we can tell how often we've
// hit that particular event.
func statsHit(name string) {
	if statsClient == nil {
		return
	}
	_ = statsClient.Count(name, 1, nil, 1)
}
