package main

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testOperator = "0x00000000000000000000000000000000000000aa"

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		envVars   map[string]string
		wantCfg   cliConfig
		wantError string
	}{
		{
			name:    "memory store with defaults",
			envVars: map[string]string{"SEALING_PRIVATE_KEY": "0xabc"},
			wantCfg: cliConfig{addr: ":8080", sealingKey: "0xabc", environment: "local"},
		},
		{
			name: "flags take precedence over env",
			args: []string{"-addr", ":9090", "-db", "postgres://localhost/cli"},
			envVars: map[string]string{
				"SEALING_PRIVATE_KEY": "0xabc",
				"HTTP_ADDR":           ":7070",
				"DATABASE_URL":        "postgres://localhost/env",
			},
			wantCfg: cliConfig{addr: ":9090", dbURL: "postgres://localhost/cli", sealingKey: "0xabc", environment: "local"},
		},
		{
			name: "operator markets from env",
			envVars: map[string]string{
				"SEALING_PRIVATE_KEY": "0xabc",
				"OPERATOR_ADDRESS":    testOperator,
				"OPERATOR_MARKETS":    "GLOBAL-VER, US-CCO-25Q1,",
				"REDIS_ADDR":          "localhost:6379",
			},
			wantCfg: cliConfig{
				addr:            ":8080",
				redisAddr:       "localhost:6379",
				sealingKey:      "0xabc",
				operator:        common.HexToAddress(testOperator),
				operatorMarkets: []string{"GLOBAL-VER", "US-CCO-25Q1"},
				environment:     "local",
			},
		},
		{
			name:      "missing sealing key",
			wantError: "SEALING_PRIVATE_KEY",
		},
		{
			name:      "invalid operator address",
			envVars:   map[string]string{"SEALING_PRIVATE_KEY": "0xabc", "OPERATOR_ADDRESS": "0x12"},
			wantError: "invalid OPERATOR_ADDRESS",
		},
		{
			name:      "operator markets without operator",
			args:      []string{"-operator-markets", "GLOBAL-VER"},
			envVars:   map[string]string{"SEALING_PRIVATE_KEY": "0xabc"},
			wantError: "require OPERATOR_ADDRESS",
		},
		{
			name:      "orders topic without trades topic",
			envVars:   map[string]string{"SEALING_PRIVATE_KEY": "0xabc", "SNS_ORDERS_TOPIC_ARN": "arn:aws:sns:eu-west-1:1:orders"},
			wantError: "requires SNS_TRADES_TOPIC_ARN",
		},
		{
			name:      "invalid flag",
			args:      []string{"--nonexistent"},
			wantError: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{
				"SEALING_PRIVATE_KEY", "HTTP_ADDR", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
				"OPERATOR_ADDRESS", "OPERATOR_MARKETS", "SNS_TRADES_TOPIC_ARN", "SNS_ORDERS_TOPIC_ARN",
				"OTEL_EXPORTER_OTLP_ENDPOINT", "ENVIRONMENT",
			} {
				t.Setenv(key, "")
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := parseConfig(tt.args)
			if tt.wantError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantError) {
					t.Fatalf("parseConfig() error = %v, want containing %q", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseConfig() error = %v", err)
			}
			if !reflect.DeepEqual(cfg, tt.wantCfg) {
				t.Errorf("parseConfig() = %+v, want %+v", cfg, tt.wantCfg)
			}
		})
	}
}

func TestMemoryStores(t *testing.T) {
	st := memoryStores()
	if st.txm == nil || st.orders == nil || st.trades == nil || st.positions == nil || st.marketData == nil {
		t.Fatalf("memoryStores() left a store nil: %+v", st)
	}
	st.close()
}
