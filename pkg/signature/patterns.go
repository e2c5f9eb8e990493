package signature

// cmsContentTypes CVE-2025-15467 相关的 CMS/S-MIME 内容类型
var cmsContentTypes = []string{
	"application/pkcs7-mime",
	"application/pkcs7-signature",
	"application/x-pkcs7-mime",
	"application/x-pkcs7-signature",
	"application/cms",
	"multipart/signed",
}

// builtinGroups 按评估顺序排列, CVE 表插入在 log4shell 之后
var builtinGroups = []groupSpec{
	{
		name: GroupPathScan, typ: "path_scan", category: "reconnaissance",
		severity: SeverityMedium, target: TargetPath,
		patterns: []string{
			// 配置文件
			`/\.env`, `/\.git`, `/\.svn`, `/\.hg`, `/\.htaccess`, `/\.htpasswd`,
			`/\.aws`, `/\.ssh`, `/\.bash_history`, `/\.bashrc`, `/\.profile`,
			`/config\.php`, `/config\.yml`, `/config\.json`, `/settings\.py`,
			`/application\.properties`, `/database\.yml`, `/secrets\.yml`,
			`/web\.config`, `/appsettings\.json`, `/\.dockerenv`, `/Dockerfile`,
			`/docker-compose\.yml`, `/\.kube/config`, `/\.kubernetes`,

			// 备份文件
			`/backup`, `\.bak$`, `\.old$`, `\.orig$`, `\.save$`, `\.swp$`,
			`/db\.sql`, `\.sql\.gz$`, `/dump\.sql`, `/database\.sql`,
			`\.tar\.gz$`, `\.zip$`, `\.rar$`,

			// 管理后台
			`/wp-admin`, `/wp-login`, `/wp-includes`, `/wp-content`,
			`/phpmyadmin`, `/pma`, `/adminer`, `/mysql`, `/myadmin`,
			`/admin`, `/administrator`, `/manager`, `/cpanel`, `/webmail`,
			`/cgi-bin`, `/fcgi-bin`, `/server-status`, `/server-info`,

			// Webshell / 后门
			`/shell`, `/cmd`, `/c99`, `/r57`, `/b374k`, `/weevely`,
			`/webshell`, `/backdoor`, `/hack`, `/pwn`, `/exploit`,
			`\.php\d?$.*\?`, `/upload\.php`, `/file\.php`, `/image\.php`,

			// 敏感系统路径
			`/etc/passwd`, `/etc/shadow`, `/etc/hosts`, `/etc/issue`,
			`/proc/self`, `/proc/version`, `/proc/cmdline`,
			`/var/log`, `/var/www`, `/tmp/`, `/dev/null`,
			`/windows/system32`, `/boot\.ini`, `/win\.ini`,
		},
	},
	{
		name: GroupSQLInjection, typ: "injection", category: "injection",
		severity: SeverityCritical, target: TargetCombined,
		patterns: []string{
			`['\"](\s*|\+)or(\s*|\+)['\"]?\d`, `['\"](\s*|\+)or(\s*|\+)['\"]?['\"]`,
			`['\"](\s*|\+)and(\s*|\+)['\"]?\d`, `union(\s+|\+)select`,
			`union(\s+|\+)all(\s+|\+)select`, `select(\s+|\+).+(\s+|\+)from`,
			`insert(\s+|\+)into`, `update(\s+|\+).+(\s+|\+)set`,
			`delete(\s+|\+)from`, `drop(\s+|\+)(table|database|index)`,
			`truncate(\s+|\+)table`, `alter(\s+|\+)table`,
			`exec(\s*|\+)\(`, `execute(\s*|\+)\(`,

			// 盲注
			`sleep\s*\(\s*\d+\s*\)`, `benchmark\s*\(`, `waitfor\s+delay`,
			`pg_sleep`, `dbms_pipe\.receive_message`,

			// 报错注入
			`extractvalue\s*\(`, `updatexml\s*\(`, `exp\s*\(~`,
			`geometrycollection\s*\(`, `multipoint\s*\(`,

			// MSSQL
			`xp_cmdshell`, `sp_executesql`, `openrowset`, `opendatasource`,

			// 注释截断
			`/\*.*\*/`, `--\s*$`, `#\s*$`, `;\s*--`,

			// 编码
			`0x[0-9a-fA-F]+`, `char\s*\(\s*\d+`, `concat\s*\(`,
		},
	},
	{
		name: GroupXSS, typ: "injection", category: "injection",
		severity: SeverityHigh, target: TargetCombined,
		patterns: []string{
			`<script`, `</script>`, `javascript:`, `vbscript:`,
			`onerror\s*=`, `onload\s*=`, `onclick\s*=`, `onmouseover\s*=`,
			`onfocus\s*=`, `onblur\s*=`, `onsubmit\s*=`, `onchange\s*=`,
			`oninput\s*=`, `onkeyup\s*=`, `onkeydown\s*=`, `onkeypress\s*=`,
			`<img[^>]+src\s*=`, `<iframe`, `<object`, `<embed`, `<svg`,
			`<body[^>]+onload`, `<input[^>]+onfocus`, `expression\s*\(`,
			`url\s*\(\s*['\"]?javascript:`, `<link[^>]+href\s*=\s*['\"]?javascript:`,
			`document\.cookie`, `document\.location`, `document\.write`,
			`window\.location`, `eval\s*\(`, `settimeout\s*\(`,
			`setinterval\s*\(`, `new\s+function\s*\(`,
		},
	},
	{
		name: GroupCommandInjection, typ: "injection", category: "injection",
		severity: SeverityCritical, target: TargetCombined,
		patterns: []string{
			`;\s*cat\s`, `;\s*ls\s`, `;\s*id\s*;?`, `;\s*whoami`,
			`;\s*uname`, `;\s*pwd\s*;?`, `;\s*wget\s`, `;\s*curl\s`,
			`\|\s*cat\s`, `\|\s*ls\s`, `\|\s*id\s`, `\|\s*whoami`,
			"`[^`]+`", `\$\([^)]+\)`,
			// 仅匹配 shell 变量展开, ${jndi:...} 之类的查找表达式留给 log4shell
			`\$\{[a-z_][a-z0-9_]*\}`,
			`&&\s*(cat|ls|id|whoami|uname|pwd|wget|curl)`,
			`\|\|\s*(cat|ls|id|whoami|uname|pwd)`,
			`/bin/(sh|bash|dash|zsh|ksh|csh)`, `/usr/bin/(perl|python|ruby|php)`,
			`nc\s+-[elp]`, `netcat`, `ncat`, `/dev/(tcp|udp)/`,
			`bash\s+-i`, `python\s+-c`, `perl\s+-e`, `ruby\s+-e`,
		},
	},
	{
		name: GroupPathTraversal, typ: "traversal", category: "file_access",
		severity: SeverityHigh, target: TargetCombined,
		patterns: []string{
			`\.\./`, `\.\.\\`, `\.\./\.\./`, `\.\.\\\.\.\\`,
			`%2e%2e/`, `%2e%2e%2f`, `\.%2e/`, `%2e\./`,
			`\.\.%5c`, `%252e%252e`, `..;/`, `..;\\`,
			`\.\.%c0%af`, `\.\.%c1%9c`, `%c0%ae%c0%ae`,
			`file://`, `file:///`,
		},
	},
	{
		name: GroupSSRF, typ: "ssrf", category: "server_side",
		severity: SeverityHigh, target: TargetNarrow,
		patterns: []string{
			`(url|uri|path|src|href|redirect|target|link|fetch|load)\s*=\s*['\"]?https?://`,
			`(url|uri|path|src|href|redirect|target|link|fetch|load)\s*=\s*['\"]?file://`,
			`(url|uri|path|src|href|redirect|target|link|fetch|load)\s*=\s*['\"]?ftp://`,
			`(url|uri|path|src|href|redirect|target|link|fetch|load)\s*=\s*['\"]?gopher://`,
			`(url|uri|path|src|href|redirect|target|link|fetch|load)\s*=\s*['\"]?dict://`,
			`127\.0\.0\.1`, `localhost`, `0\.0\.0\.0`, `\[::1\]`,
			`169\.254\.\d+\.\d+`, `10\.\d+\.\d+\.\d+`, `172\.(1[6-9]|2\d|3[01])\.`,
			`192\.168\.\d+\.\d+`, `metadata\.google`, `instance-data`,
		},
	},
	{
		name: GroupXXE, typ: "injection", category: "xml_attack",
		severity: SeverityCritical, target: TargetBody,
		patterns: []string{
			`<!DOCTYPE[^>]+\[`, `<!ENTITY`, `SYSTEM\s+['\"]`,
			`file://`, `expect://`, `php://`, `data://`,
			`<!DOCTYPE\s+\w+\s+PUBLIC`, `<!DOCTYPE\s+\w+\s+SYSTEM`,
		},
	},
	{
		name: GroupLDAPInjection, typ: "injection", category: "injection",
		severity: SeverityHigh, target: TargetCombined,
		patterns: []string{
			`\)\(\|`, `\)\(&`, `\*\)`, `\)\)`, `\(\|`, `\(&`,
			`[\*\(\)\\\x00]`, `objectclass=\*`, `cn=\*`, `uid=\*`,
		},
	},
	{
		name: GroupLog4Shell, typ: "injection", category: "rce",
		severity: SeverityCritical, target: TargetCombined, cve: CVELog4Shell,
		patterns: []string{
			`\$\{jndi:`, `\$\{lower:`, `\$\{upper:`, `\$\{env:`,
			`\$\{sys:`, `\$\{java:`, `\$\{base64:`,
			`ldap://`, `ldaps://`, `rmi://`, `dns://`, `iiop://`,
		},
	},
	{
		name: GroupSSTI, typ: "injection", category: "template_injection",
		severity: SeverityCritical, target: TargetCombined,
		patterns: []string{
			`\{\{.*\}\}`, // Jinja2/Twig
			`\$\{.*\}`,   // FreeMarker/Velocity
			`<%.*%>`,     // ERB/JSP
			`#\{.*\}`,    // Thymeleaf
			`\[\[.*\]\]`, // Smarty
		},
	},
	{
		name: GroupPrototypePollution, typ: "injection", category: "javascript_attack",
		severity: SeverityHigh, target: TargetCombined,
		patterns: []string{
			`__proto__`, `constructor\[`, `prototype\[`,
			`\["__proto__"\]`, `\["constructor"\]`, `\["prototype"\]`,
		},
	},
	{
		name: GroupGraphQL, typ: "api_abuse", category: "graphql",
		severity: SeverityMedium, target: TargetCombined,
		patterns: []string{
			`__schema`, `__type`, `introspectionQuery`,
			`query\s*\{.*\{.*\{.*\{.*\{`, // 深层嵌套
			`fragment.*on.*\{.*fragment`, // 递归片段
		},
	},
	{
		name: GroupJWT, typ: "auth_bypass", category: "authentication",
		severity: SeverityMedium, target: TargetCombined,
		patterns: []string{
			`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`,
			`alg.*none`,
			`"alg"\s*:\s*"none"`,
		},
	},
	{
		name: GroupSmuggling, typ: "protocol_attack", category: "request_smuggling",
		severity: SeverityCritical, target: TargetProtocol,
		patterns: []string{
			`transfer-encoding:\s*chunked.*content-length:`, // TE.CL
			`content-length:.*transfer-encoding:\s*chunked`, // CL.TE
			`transfer-encoding:\s*.*,\s*chunked`,
			`transfer-encoding:\s*chunked\s*,`,
			`\x00.*content-length:`,
			`0\r\n\r\n`,
		},
	},
	{
		name: GroupPromptInjection, typ: "ai_attack", category: "llm_injection",
		severity: SeverityHigh, target: TargetCombined,
		patterns: []string{
			`ignore\s+(previous|all|above)\s+instructions?`,
			`disregard\s+(previous|all|above)\s+instructions?`,
			`forget\s+(previous|all|above)\s+instructions?`,
			`new\s+instructions?:`,
			`system\s*prompt:`,
			`<\|im_start\|>`,
			`\[INST\]`,
			`<\|endoftext\|>`,
			`###\s*(Instruction|System|Human|Assistant):`,
			`roleplay\s+as\s+(a\s+)?(?:system|admin|root)`,
			`pretend\s+you\s+are\s+(?:a\s+)?(?:system|admin|root)`,
		},
	},
	{
		// 重复参数检测由 HasDuplicateParams 在代码中完成
		name: GroupWAFBypass, typ: "evasion", category: "waf_bypass",
		severity: SeverityHigh, target: TargetCombined,
		patterns: []string{
			`%uff1c`, `%uff1e`, `%u003c`, `%u003e`,
			`\xef\xbc\x9c`, `\xef\xbc\x9e`,
			`%25(?:2[0-9a-f]|3[0-9a-f]|4[0-9a-f])`,
			`%252e%252e`,
			`%00`, `\x00`,
			`(?:S|s)(?:E|e)(?:L|l)(?:E|e)(?:C|c)(?:T|t)`,
			`/\*!.*\*/`,
			`/\*\+.*\*/`,
		},
	},
	{
		name: GroupSSTIAdvanced, typ: "injection", category: "template_injection",
		severity: SeverityCritical, target: TargetCombined,
		patterns: []string{
			`\{\{\s*config\s*\}\}`, `\{\{\s*self\.__`,
			`\{\{\s*request\s*\}\}`, `__class__.__mro__`,
			`<#assign`, `\$\{\.data_model`,
			`#set\s*\(\s*\$`, `#foreach`,
			`\[\[\$\{`, `\$\{T\(java\.lang`,
			`\{\{\s*beans\s*\}\}`,
			`@\{`, `@Html\.Raw`,
		},
	},
	{
		name: GroupAPIAbuse, typ: "api_attack", category: "api_security",
		severity: SeverityMedium, target: TargetCombined,
		patterns: []string{
			`(is_admin|role|admin|privilege|permission)\s*[=:]`,
			`/api/.*/users?/\d+`, `/api/.*/accounts?/\d+`,
			`/v\d+/.*/\d{4,}`,
			`x-forwarded-for:.*,.*,`,
			`/debug/`, `/trace/`, `/actuator/`, `/metrics/`,
			`/__debug__/`, `/_profiler/`,
		},
	},
	{
		name: GroupSupplyChain, typ: "supply_chain", category: "supply_chain_attack",
		severity: SeverityHigh, target: TargetCombined,
		patterns: []string{
			`npm\s+install.*\|\s*(sh|bash)`,
			`pip\s+install.*--pre`,
			`gem\s+install.*--no-verify`,
			`@[a-z0-9-]+/[a-z0-9-]+@[0-9]+\.[0-9]+\.[0-9]+-`,
			`\.github/workflows/.*\.ya?ml`,
			`\.gitlab-ci\.yml`,
			`Jenkinsfile`,
			`\.circleci/config\.yml`,
		},
	},
}
