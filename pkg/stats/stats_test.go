package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestCollectorRecord 测试计数
func TestCollectorRecord(t *testing.T) {
	c := NewCollector()

	c.Record(Observation{Country: "FR", ThreatType: "injection", Category: "injection"})
	c.Record(Observation{Country: "FR", IsBot: true, IsAuthAttempt: true})
	c.Record(Observation{})

	s := c.Snapshot()
	if s.Total.Requests != 3 || s.Total.Bots != 1 || s.Total.Threats != 1 || s.Total.AuthAttempts != 1 {
		t.Errorf("总计错误: %+v", s.Total)
	}
	if s.Countries["FR"] != 2 || s.Countries["XX"] != 1 {
		t.Errorf("国家计数错误: %v", s.Countries)
	}
	if s.Threats["injection"] != 1 || s.Categories["injection"] != 1 {
		t.Errorf("威胁计数错误: %v %v", s.Threats, s.Categories)
	}

	// 快照与内部状态隔离
	s.Countries["FR"] = 100
	if c.Snapshot().Countries["FR"] != 2 {
		t.Error("快照修改不应影响收集器")
	}
}

// TestCollectorAlertRing 测试告警只保留最近 100 条
func TestCollectorAlertRing(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 150; i++ {
		c.AddAlert(Alert{Type: AlertThreat, IP: fmt.Sprintf("203.0.113.%d", i%250), Count: i})
	}

	alerts := c.Alerts(0)
	if len(alerts) != MaxAlerts {
		t.Fatalf("应保留 %d 条, 实际 %d", MaxAlerts, len(alerts))
	}
	if alerts[0].Count != 50 || alerts[len(alerts)-1].Count != 149 {
		t.Errorf("应保留最近的告警: 首条 %d 末条 %d", alerts[0].Count, alerts[len(alerts)-1].Count)
	}
	if recent := c.Alerts(10); len(recent) != 10 || recent[9].Count != 149 {
		t.Errorf("limit 结果错误: %d", len(recent))
	}
}

// TestCollectorFiles 测试按间隔写入文件
func TestCollectorFiles(t *testing.T) {
	dir := t.TempDir()
	statsPath := filepath.Join(dir, "stats.json")
	alertsPath := filepath.Join(dir, "alerts.json")
	c := NewCollector(WithFiles(statsPath, alertsPath), WithFlushEvery(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		c.Record(Observation{Country: "DE"})
	}
	c.AddAlert(Alert{Type: AlertRateLimit, IP: "203.0.113.5", Count: 101})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(statsPath); err == nil {
			if _, err := os.Stat(alertsPath); err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("统计文件未写入")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Record(Observation{Country: "DE"})
	cancel()
	<-done

	data, err := os.ReadFile(statsPath)
	if err != nil {
		t.Fatal(err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("统计文件格式错误: %v", err)
	}
	// 退出时写入最终状态
	if s.Total.Requests != 11 || s.Countries["DE"] != 11 {
		t.Errorf("统计文件内容错误: %+v", s)
	}

	data, _ = os.ReadFile(alertsPath)
	var alerts []Alert
	if err := json.Unmarshal(data, &alerts); err != nil || len(alerts) != 1 || alerts[0].Type != AlertRateLimit {
		t.Errorf("告警文件内容错误: %s", data)
	}
}
