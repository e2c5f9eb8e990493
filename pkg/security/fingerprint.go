package security

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strings"
)

// 机器人类型
const (
	BotTypePortScanner          = "port_scanner"
	BotTypeVulnerabilityScanner = "vulnerability_scanner"
	BotTypeDirectoryScanner     = "directory_scanner"
	BotTypeInjectionTool        = "injection_tool"
	BotTypeCMSScanner           = "cms_scanner"
	BotTypeExploitationTool     = "exploitation_tool"
	BotTypeHTTPClient           = "http_client"
	BotTypeGenericBot           = "generic_bot"
	BotTypeNone                 = "none"
)

// userAgentMax 日志中保留的 UA 长度
const userAgentMax = 200

// botSignatures UA 子串特征
var botSignatures = []string{
	// 通用
	"bot", "crawler", "spider", "scraper", "scan",
	// HTTP 客户端
	"curl", "wget", "python-requests", "python-urllib", "httpx",
	"go-http-client", "java/", "axios", "node-fetch", "got/",
	"okhttp", "apache-httpclient", "guzzlehttp", "libwww-perl",
	// 漏洞扫描器
	"zgrab", "masscan", "nmap", "nikto", "nuclei", "sqlmap",
	"censys", "shodan", "internetmeasurement", "binaryedge", "leakix",
	"onyphe", "criminalip", "netcraft", "greynoise",
	// 目录扫描器
	"dirb", "dirbuster", "gobuster", "ffuf", "wfuzz", "feroxbuster",
	"skipfish", "whatweb", "wpscan", "joomscan", "droopescan",
	"drupwn", "cmsmap", "vbscan",
	// 利用工具
	"burpsuite", "owasp", "acunetix", "nessus", "qualys", "openvas",
	"w3af", "arachni", "vega", "zap", "appscan",
	"webinspect", "metasploit", "hydra", "medusa", "cobalt",
	"havij", "commix", "tplmap", "xsstrike", "dalfox",
	// 可疑词
	"scanner", "exploit", "attack", "hack", "pwn",
	"fuzz", "brute", "inject", "payload", "pentest",
	// 恶意爬虫
	"ahrefsbot", "semrushbot", "dotbot", "mj12bot", "blexbot",
	"seznambot", "yandexbot", "baiduspider", "sogou",
	"bytespider", "petalbot", "dataforseo", "serpstatbot",
}

// fakeUserAgents 空或伪造的 UA, 整串比较
var fakeUserAgents = []string{"", "-", "mozilla/4.0", "mozilla/5.0"}

// botBuckets 机器人分类, 按顺序首个命中生效
var botBuckets = []struct {
	botType string
	needles []string
}{
	{BotTypePortScanner, []string{"masscan", "zgrab", "censys", "shodan", "nmap"}},
	{BotTypeVulnerabilityScanner, []string{"nikto", "nuclei", "acunetix", "nessus", "qualys"}},
	{BotTypeDirectoryScanner, []string{"dirb", "gobuster", "ffuf", "wfuzz", "feroxbuster"}},
	{BotTypeInjectionTool, []string{"sqlmap", "havij", "commix"}},
	{BotTypeCMSScanner, []string{"wpscan", "joomscan", "droopescan", "cmsmap"}},
	{BotTypeExploitationTool, []string{"metasploit", "cobalt", "hydra", "medusa"}},
	{BotTypeHTTPClient, []string{"curl", "wget", "python", "go-http", "java/"}},
}

// whitelistedBots 合法搜索引擎与社交爬虫, 跳过威胁分类
var whitelistedBots = []string{
	"googlebot", "bingbot", "yandexbot", "facebookexternalhit",
	"meta-externalagent", "twitterbot", "linkedinbot", "slackbot", "applebot",
}

// ClientFingerprint 客户端指纹
type ClientFingerprint struct {
	Hash           string `json:"fingerprint"`
	UserAgent      string `json:"user_agent"`
	IsBot          bool   `json:"is_bot"`
	BotType        string `json:"bot_type"`
	IsSuspiciousUA bool   `json:"is_suspicious_ua"`
	Device         string `json:"device"`
}

// Fingerprint 根据请求头计算客户端指纹
func Fingerprint(h http.Header) ClientFingerprint {
	ua := h.Get("User-Agent")
	accept := h.Get("Accept")
	acceptLang := h.Get("Accept-Language")
	acceptEnc := h.Get("Accept-Encoding")

	sum := md5.Sum([]byte(ua + "|" + accept + "|" + acceptLang + "|" + acceptEnc))
	lower := strings.ToLower(ua)

	fp := ClientFingerprint{
		Hash:      hex.EncodeToString(sum[:])[:12],
		UserAgent: truncate(ua, userAgentMax),
		IsBot:     isBotUA(lower),
		BotType:   BotTypeNone,
		Device:    deviceClass(lower),
	}
	if fp.IsBot {
		fp.BotType = botType(lower)
	}

	switch {
	case ua == "" || ua == "-" || len(ua) < 10:
		fp.IsSuspiciousUA = true
	case lower == "mozilla/4.0" || lower == "mozilla/5.0":
		fp.IsSuspiciousUA = true
	case acceptLang == "" && acceptEnc == "":
		fp.IsSuspiciousUA = true
	}
	return fp
}

// IsWhitelistedBot 是否为白名单爬虫
func IsWhitelistedBot(ua string) bool {
	lower := strings.ToLower(ua)
	for _, b := range whitelistedBots {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}

func isBotUA(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	for _, f := range fakeUserAgents {
		if trimmed == f {
			return true
		}
	}
	for _, sig := range botSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func botType(lower string) string {
	for _, b := range botBuckets {
		for _, n := range b.needles {
			if strings.Contains(lower, n) {
				return b.botType
			}
		}
	}
	return BotTypeGenericBot
}

func deviceClass(lower string) string {
	switch {
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "android"):
		return "mobile"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad"):
		return "ios"
	case strings.Contains(lower, "windows"):
		return "windows"
	case strings.Contains(lower, "mac"):
		return "macos"
	case strings.Contains(lower, "linux"):
		return "linux"
	default:
		return "unknown"
	}
}
