package iplib

import (
	"os"
	"path/filepath"
	"testing"
)

// TestGeoIPWithoutDatabase 测试无数据库时的降级
func TestGeoIPWithoutDatabase(t *testing.T) {
	g := NewGeoIPLib()
	if err := g.Init(filepath.Join(t.TempDir(), "missing.mmdb")); err != nil {
		t.Fatalf("数据库不存在时不应报错: %v", err)
	}
	defer g.Close()

	if got := g.Country("203.0.113.5"); got != CountryLocal {
		t.Errorf("未加载数据库应返回 LOCAL, 实际 %s", got)
	}
	if g.GetLibraryInfo().Loaded {
		t.Error("库信息不应显示已加载")
	}
}

// TestGeoIPCorruptDatabase 测试损坏的数据库文件
func TestGeoIPCorruptDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.mmdb")
	if err := os.WriteFile(path, []byte("not a maxmind db"), 0644); err != nil {
		t.Fatal(err)
	}

	g := NewGeoIPLib()
	if err := g.Init(path); err == nil {
		t.Error("损坏的数据库应返回错误")
	}
	if got := g.Country("8.8.8.8"); got != CountryLocal {
		t.Errorf("加载失败后应返回 LOCAL, 实际 %s", got)
	}
}

// TestAddressClasses 测试地址分类
func TestAddressClasses(t *testing.T) {
	cases := []struct {
		ip                         string
		private, trusted, internal bool
	}{
		{"10.1.2.3", true, true, true},
		{"172.16.0.1", true, true, true},
		{"172.20.0.1", true, false, false},
		{"172.31.255.1", true, false, false},
		{"172.32.0.1", false, false, false},
		{"192.168.1.1", true, true, true},
		{"127.0.0.1", true, true, true},
		{"203.0.113.5", false, false, false},
	}
	for _, c := range cases {
		if IsPrivate(c.ip) != c.private {
			t.Errorf("IsPrivate(%s) 应为 %v", c.ip, c.private)
		}
		if IsTrustedLocal(c.ip) != c.trusted {
			t.Errorf("IsTrustedLocal(%s) 应为 %v", c.ip, c.trusted)
		}
		if IsInternal(c.ip) != c.internal {
			t.Errorf("IsInternal(%s) 应为 %v", c.ip, c.internal)
		}
	}
}

// TestIPList 测试名单匹配
func TestIPList(t *testing.T) {
	l := NewIPList([]string{"203.0.113.5", "198.51.100.0/24", "192.0.2.10-192.0.2.20", "", "bad/cidr"})

	if l.Len() != 3 {
		t.Errorf("有效条目应为 3, 实际 %d", l.Len())
	}

	hits := []string{"203.0.113.5", "198.51.100.77", "192.0.2.15"}
	for _, ip := range hits {
		if !l.Contains(ip) {
			t.Errorf("%s 应在名单中", ip)
		}
	}

	misses := []string{"203.0.113.6", "198.51.101.1", "192.0.2.21", "not-an-ip"}
	for _, ip := range misses {
		if l.Contains(ip) {
			t.Errorf("%s 不应在名单中", ip)
		}
	}

	var nilList *IPList
	if nilList.Contains("1.2.3.4") {
		t.Error("空名单不应命中")
	}
}
