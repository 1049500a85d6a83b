package main

import (
	"strings"
	"testing"

	"trustcollapse.dev/internal/persistence/indexdb"
	"trustcollapse.dev/internal/sim/runner"
	"trustcollapse.dev/internal/sim/world"
)

func TestWriteMetrics(t *testing.T) {
	m := runner.Metrics{
		Tick:           42,
		Running:        true,
		TickRateHz:     12,
		ShuffleEnabled: false,
		QueueLen:       7,
		MigratedTotal:  19,
		MigratedTick:   3,
		Good:           world.Summary{Occupied: 5000, MeanTrust: 9.5, GoodCount: 4990, EvilCount: 10},
		Mixed:          world.Summary{Occupied: 4981, MeanTrust: -2.25, GoodCount: 1200, EvilCount: 3781},
	}
	var sb strings.Builder
	writeMetrics(&sb, m, 2, 40, indexdb.Stats{DropTickTotal: 1}, false)
	out := sb.String()

	for _, want := range []string{
		"trustsim_tick 42\n",
		"trustsim_running 1\n",
		"trustsim_shuffle_enabled 0\n",
		"trustsim_migration_queue_len 7\n",
		"trustsim_migrated_total 19\n",
		`trustsim_tick_events{event="migrated"} 3` + "\n",
		`trustsim_population{world="mixed"} 4981` + "\n",
		`trustsim_mean_trust{world="mixed"} -2.250000` + "\n",
		`trustsim_alignment{world="good",sign="evil"} 10` + "\n",
		"trustsim_observers 2\n",
		"trustsim_tick_log_lines_total 40\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "trustsim_index_") {
		t.Fatalf("index metrics should be omitted when disabled")
	}

	sb.Reset()
	writeMetrics(&sb, m, 0, 0, indexdb.Stats{DropTickTotal: 1, QueueCapacity: 8}, true)
	if !strings.Contains(sb.String(), "trustsim_index_dropped_total 1\n") || !strings.Contains(sb.String(), "trustsim_index_queue_capacity 8\n") {
		t.Fatalf("index metrics missing:\n%s", sb.String())
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TRUSTSIM_TEST_FLAG", "")
	if !envBool("TRUSTSIM_TEST_FLAG", true) {
		t.Fatalf("empty should use default")
	}
	t.Setenv("TRUSTSIM_TEST_FLAG", "false")
	if envBool("TRUSTSIM_TEST_FLAG", true) {
		t.Fatalf("false should parse")
	}
	t.Setenv("TRUSTSIM_TEST_FLAG", "nope")
	if envBool("TRUSTSIM_TEST_FLAG", false) {
		t.Fatalf("garbage should use default")
	}

	t.Setenv("DEPLOY_ENV", "production")
	if defaultEnableAdminHTTP() {
		t.Fatalf("admin should be off in production")
	}
	t.Setenv("DEPLOY_ENV", "dev")
	if !defaultEnableAdminHTTP() {
		t.Fatalf("admin should be on outside staging/production")
	}
}
