package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"mailgram/bot/internal/domain"
)

// tokenBytes 随机令牌长度：8 字节 → 16 个十六进制字符。
const tokenBytes = 8

// Registry 维护订阅者与临时邮箱地址的双向映射，是系统中唯一的共享可变状态。
//
// 不变式：两个 map 互为逆映射。Assign 在持锁期间先撤销旧地址的反向条目，
// 再写入新的配对，因此一个订阅者永远只有一个活跃地址，
// 一个地址也只属于一个订阅者。映射仅存在于进程内存中，重启即清空。
type Registry struct {
	mu         sync.RWMutex
	mailDomain string
	byChat     map[domain.Subscriber]string
	byAddress  map[string]domain.Subscriber
}

// New 创建注册表。mailDomain 为生成地址所用的邮件域名。
func New(mailDomain string) *Registry {
	return &Registry{
		mailDomain: strings.ToLower(mailDomain),
		byChat:     make(map[domain.Subscriber]string),
		byAddress:  make(map[string]domain.Subscriber),
	}
}

// Assign 为订阅者生成新的随机地址并原子替换旧映射，返回新地址。
// 旧地址（如果有）在新配对写入前被撤销，之后对它的查找返回未命中。
func (r *Registry) Assign(sub domain.Subscriber) string {
	addr := r.newAddress()

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byChat[sub]; ok {
		delete(r.byAddress, old)
	}
	r.byChat[sub] = addr
	r.byAddress[addr] = sub
	return addr
}

// BySubscriber 返回订阅者当前的活跃地址。
func (r *Registry) BySubscriber(sub domain.Subscriber) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.byChat[sub]
	return addr, ok
}

// ByAddress 按地址查找所属订阅者，匹配不区分大小写。
func (r *Registry) ByAddress(addr string) (domain.Subscriber, bool) {
	addr = domain.NormalizeAddress(addr)

	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byAddress[addr]
	return sub, ok
}

// newAddress 生成 "{16位十六进制}@{域名}" 形式的随机地址。
func (r *Registry) newAddress() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand 在受支持平台上不会失败
		panic(fmt.Sprintf("registry: read random bytes: %v", err))
	}
	return fmt.Sprintf("%s@%s", hex.EncodeToString(buf), r.mailDomain)
}
