package domain

import "strings"

// NormalizeAddress 将邮箱地址归一化：去除空白与尖括号并转为小写。
// 注册表存储与查找均以归一化后的形式进行，保证大小写不敏感匹配。
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

// AddressDomain 返回地址的域名部分；地址格式非法时返回空字符串。
func AddressDomain(addr string) string {
	parts := strings.Split(NormalizeAddress(addr), "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[1]
}
