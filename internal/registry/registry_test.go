package registry

import (
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailgram/bot/internal/domain"
)

func TestRegistry_AssignFormat(t *testing.T) {
	reg := New("Mail.Test")

	addr := reg.Assign(domain.Subscriber(42))

	// 域名在构造时被转为小写
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}@mail\.test$`), addr)
}

func TestRegistry_AssignReplacesPreviousAddress(t *testing.T) {
	reg := New("mail.test")
	sub := domain.Subscriber(42)

	first := reg.Assign(sub)
	second := reg.Assign(sub)
	require.NotEqual(t, first, second)

	// 订阅者只保留第二个地址
	current, ok := reg.BySubscriber(sub)
	require.True(t, ok)
	assert.Equal(t, second, current)

	// 旧地址已撤销
	_, ok = reg.ByAddress(first)
	assert.False(t, ok)

	owner, ok := reg.ByAddress(second)
	require.True(t, ok)
	assert.Equal(t, sub, owner)
}

func TestRegistry_ByAddressCaseInsensitive(t *testing.T) {
	reg := New("example.com")
	sub := domain.Subscriber(7)

	addr := reg.Assign(sub)

	for _, lookup := range []string{
		addr,
		"<" + addr + ">",
		"  " + addr + "  ",
	} {
		owner, ok := reg.ByAddress(lookup)
		require.True(t, ok, "lookup %q", lookup)
		assert.Equal(t, sub, owner)
	}
}

func TestRegistry_ByAddressMixedCase(t *testing.T) {
	reg := New("example.com")
	sub := domain.Subscriber(9)

	addr := reg.Assign(sub)

	mixed := ""
	for i, r := range addr {
		if i%2 == 0 && r >= 'a' && r <= 'z' {
			mixed += string(r - 'a' + 'A')
		} else {
			mixed += string(r)
		}
	}

	owner, ok := reg.ByAddress(mixed)
	require.True(t, ok)
	assert.Equal(t, sub, owner)
}

func TestRegistry_UnknownLookups(t *testing.T) {
	reg := New("mail.test")

	_, ok := reg.BySubscriber(domain.Subscriber(1))
	assert.False(t, ok)

	_, ok = reg.ByAddress("nobody@mail.test")
	assert.False(t, ok)
}

func TestRegistry_AddressesAreDistinct(t *testing.T) {
	reg := New("mail.test")

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		addr := reg.Assign(domain.Subscriber(i))
		_, dup := seen[addr]
		require.False(t, dup, "duplicate address %s", addr)
		seen[addr] = struct{}{}
	}
}

func TestRegistry_ConcurrentAssign(t *testing.T) {
	reg := New("mail.test")

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sub := domain.Subscriber(n % 8)
			addr := reg.Assign(sub)
			// 并发 Assign 之间，地址查找必须始终一致：要么未命中（已被替换），
			// 要么命中同一订阅者
			if owner, ok := reg.ByAddress(addr); ok {
				assert.Equal(t, sub, owner)
			}
		}(i)
	}
	wg.Wait()

	// 每个订阅者最终只有一个活跃地址
	for n := 0; n < 8; n++ {
		addr, ok := reg.BySubscriber(domain.Subscriber(n))
		require.True(t, ok)
		owner, ok := reg.ByAddress(addr)
		require.True(t, ok)
		assert.Equal(t, domain.Subscriber(n), owner)
	}
}

func BenchmarkRegistry_Assign(b *testing.B) {
	reg := New("mail.test")
	for i := 0; i < b.N; i++ {
		reg.Assign(domain.Subscriber(i % 1024))
	}
}

func ExampleRegistry_Assign() {
	reg := New("mail.test")
	addr := reg.Assign(1)
	fmt.Println(len(addr) == len("0123456789abcdef@mail.test"))
	// Output: true
}
