package signature

// builtinCVEs 已知漏洞利用特征, 按顺序匹配, 第一个命中的条目生效
var builtinCVEs = []cveEntry{
	// 2021
	{"CVE-2021-44228", []string{`\$\{jndi:`, `\$\{env:`, `\$\{lower:`, `\$\{upper:`, `\$\{base64:`}},
	{"CVE-2021-41773", []string{`\.%2e/`, `%2e\./`, `\.\.%00`, `cgi-bin/\.%2e/`, `/icons/\.%2e/`}},
	{"CVE-2021-26084", []string{`/pages/doenterpagevariables\.action`, `queryString=.*ognl`}},
	{"CVE-2021-34473", []string{`/autodiscover/autodiscover\.json.*@`, `/mapi/nspi`}},
	{"CVE-2021-21972", []string{`/ui/vropspluginui/rest/services/uploadova`}},
	{"CVE-2021-22986", []string{`/mgmt/tm/util/bash`, `/mgmt/shared/authn/login`}},

	// 2022
	{"CVE-2022-22963", []string{`spring\.cloud\.function\.routing-expression:`, `spring\.cloud\.function\.definition`}},
	{"CVE-2022-22965", []string{`class\.module\.classLoader`, `class\.module\.classLoader\.resources`}},
	{"CVE-2022-1388", []string{`/mgmt/tm/.*\?.*connection.*keep-alive`, `X-F5-Auth-Token:`}},
	{"CVE-2022-26134", []string{`/\$\{.*\}/`, `%24%7B.*%7D`}},
	{"CVE-2022-41040", []string{`/autodiscover/autodiscover\.json.*Powershell`, `/owa/.*RemotePS`}},
	{"CVE-2022-42889", []string{`\$\{script:`, `\$\{dns:`, `\$\{url:`}},
	{"CVE-2022-47966", []string{`/samlLogin`, `/SamlResponseServlet`}},

	// 2023
	{"CVE-2023-34362", []string{`machine2\.aspx`, `/guestaccess\.aspx`, `/human\.aspx`}},
	{"CVE-2023-22515", []string{`/server-info\.action\?bootstrapStatusProvider`, `/setup/setupadministrator\.action`}},
	{"CVE-2023-22518", []string{`/json/setup-restore\.action`, `/json/setup-restore-local\.action`}},
	{"CVE-2023-46747", []string{`/tmui/login\.jsp.*;`}},
	{"CVE-2023-27997", []string{`/remote/hostcheck_validate`, `/remote/logincheck`}},
	{"CVE-2023-20198", []string{`/webui/`, `%2F%2e%2e`}},
	{"CVE-2023-42793", []string{`/app/rest/users/id:\d+/tokens`, `/app/rest/debug/processes`}},
	{"CVE-2023-4966", []string{`/oauth/idp/.*\.js`, `/vpn/.*\.xml`}},
	{"CVE-2023-29357", []string{`/_api/web/siteusers`, `/_vti_bin/client\.svc`}},

	// 2024
	{"CVE-2024-3400", []string{`/global-protect/.*\.css\?`, `/ssl-vpn/hipreport\.esp`}},
	{"CVE-2024-21887", []string{`/api/v1/totp/user-backup-code`, `/api/v1/license/keys-status`, `/dana-na/`}},
	{"CVE-2024-1709", []string{`/SetupWizard\.aspx`, `/SetupWizard\.ashx`}},
	{"CVE-2024-27198", []string{`/app/rest/users/id:`, `/app/rest/server`, `/res/`}},
	{"CVE-2024-21762", []string{`/webui/.*auth`, `/api/v2/cmdb`}},
	{"CVE-2024-23897", []string{`/cli\?remoting=false`, `@/etc/passwd`}},
	{"CVE-2024-0012", []string{`/php/utils/debug\.php`, `/unauth/`}},
	{"CVE-2024-9474", []string{`/php/utils/createRemoteAppwebSession\.php`}},
	{"CVE-2024-47575", []string{`/jsonrpc`, `FmgAuth`}},
	{"CVE-2024-20399", []string{`/api/node/class/`, `/api/node/mo/`}},
	{"CVE-2024-4577", []string{`\.php\?.*-d.*allow_url_include`, `%AD`}},
	{"CVE-2024-38856", []string{`/webtools/control/ProgramExport`, `/webtools/control/SOAPService`}},
	{"CVE-2024-6387", []string{`SSH-2\.0-OpenSSH_[89]\.[0-7]`}},
	{"CVE-2024-23113", []string{`fgfm_req_`, `fgfmd`}},
	{"CVE-2024-55591", []string{`/api/v2/authentication`, `LOCAL_ADMIN`}},

	// 2025
	{CVE2025_15467, []string{
		`/smime`, `/s-mime`, `/cms/`, `/pkcs7`,
		`/api/mail`, `/mail/send`, `/email/compose`,
		`/decrypt`, `/verify-signature`, `/enveloped`,
	}},
	{"CVE-2025-0282", []string{`/dana-na/auth/url_default/`, `/dana-ws/saml20\.ws`}},
	{"CVE-2025-23006", []string{`/cgi-bin/management`, `/cgi-bin/sslvpnclient`}},
	{"CVE-2025-55182", []string{
		`__rsc_chunk`, `__rsc`, `_rsc=`, `rsc\?`,
		`x-rsc`, `__react_refresh`, `react-server-dom`,
		`__next_rsc__`, `_next/data/.*\.rsc`,
	}},
	{"CVE-2025-8110", []string{
		`/api/v1/repos/.*/git/trees`, `/api/v1/repos/.*/contents`,
		`\.\.%2f`, `\.\.%5c`, `symlink`,
	}},
	{"CVE-2025-53770", []string{
		`/_layouts/.*toolpart`, `/_vti_bin/webpartpages\.asmx`,
		`/_api/SP\.WebPartBuilder`, `/_api/web/GetFileByServerRelativePath`,
	}},
	{"CVE-2025-52691", []string{
		`/interface/web-mail\.aspx`, `/interface/root/upload`,
		`/interface/settings/.*upload`, `/webmail/.*\.ashx.*upload`,
	}},
	{"CVE-2025-40551", []string{
		`/helpdesk/`, `/WebHelpDesk/`, `/whd/`,
		`\.doj$`, `java\.io\.ObjectInputStream`, `java\.lang\.Runtime`,
	}},
	{"CVE-2025-58360", []string{
		`/geoserver/`, `/wfs\?`, `/wms\?`, `/wcs\?`,
		`GetCapabilities`, `DescribeFeatureType`,
	}},
	{"CVE-2025-68645", []string{
		`/zimbraAdmin/`, `/zimlet/`, `/service/soap`,
		`\.php\?.*include`, `\.php\?.*require`,
	}},

	// CMS
	{"wordpress_rce", []string{
		`/wp-admin/admin-ajax\.php.*action=.*upload`,
		`/wp-content/plugins/.*/readme\.txt`,
		`/xmlrpc\.php.*methodName.*system\.multicall`,
		`/wp-json/wp/v2/users`,
	}},
	{"drupal_rce", []string{
		`/node/\d+.*#.*render`,
		`/user/register.*mail\[#.*\]`,
		`passthru`, `system\(`,
	}},
	{"joomla_rce", []string{
		`/index\.php\?option=com_.*&view=.*&layout=`,
		`/administrator/components/`,
	}},

	// 框架
	{"laravel_debug", []string{`/_ignition/execute-solution`, `/_ignition/share-report`}},
	{"symfony_debug", []string{`/_profiler/`, `/_wdt/`}},
	{"django_debug", []string{`/__debug__/`, `/debug/`}},
	{"rails_rce", []string{`/assets/\.\./`, `/rails/actions`}},
	{"express_rce", []string{`/\.\./\.\./\.\./etc/passwd`}},

	// 数据库 / 缓存
	{"redis_unauth", []string{`:6379/`, `CONFIG\s+SET`, `SLAVEOF`}},
	{"mongodb_unauth", []string{`:27017/`, `/admin\?slaveOk`}},
	{"elasticsearch_rce", []string{`/_search.*script`, `/_all/_search`, `/_nodes`}},
	{"memcached_amp", []string{`:11211/`, `stats\s+slabs`}},

	// CI/CD
	{"gitlab_rce", []string{`/api/v4/projects/.*/repository/files`, `/uploads/`}},
	{"github_actions", []string{`/\.github/workflows/`, `workflow_dispatch`}},
	{"jenkins_rce", []string{`/script`, `/scriptText`, `/descriptorByName/`}},

	// 云元数据
	{"aws_metadata", []string{`169\.254\.169\.254`, `/latest/meta-data/`, `/latest/user-data/`}},
	{"azure_metadata", []string{`169\.254\.169\.254.*Metadata.*true`, `/metadata/instance`}},
	{"gcp_metadata", []string{`metadata\.google\.internal`, `/computeMetadata/v1/`}},
}
