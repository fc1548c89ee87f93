package decoy

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// DefaultURLs 默认诱饵页面：普通商品详情页
var DefaultURLs = []string{
	"https://www.very.co.uk/levis-565-loose-straight-fit-jeans-right-mind-blue/1601168820.prd",
	"https://www.very.co.uk/mango-winny-sweatshirt-navy/1601251336.prd",
	"http://very.co.uk/adidas-originals-sst-adicolor-loose-sst-denim-black-wash-jacket/2000017782.prd",
	"https://www.very.co.uk/hugo-blue-jinko-small-logo-baseball-cap-one-colour/1601210909.prd",
	"https://www.very.co.uk/apple-airpods-4/1601049005.prd",
	"https://www.very.co.uk/apple-airpodsnbsppronbsp3/1601214439.prd",
	"https://www.very.co.uk/apple-airpods-4-with-active-noise-cancellation/1601049006.prd",
	"https://www.very.co.uk/apple-airpods-max-blue/1601049001.prd",
	"https://www.very.co.uk/apple-airpods-max-starlight/1601049007.prd",
	"https://www.very.co.uk/apple-airpods-max-midnight/1601049021.prd",
	"https://www.very.co.uk/apple-airpods-max-purple/1601049015.prd",
	"https://www.very.co.uk/apple-airpods-max-orange/1601049024.prd",
	"https://www.very.co.uk/apple-earpods-35mm-headphone-plug/1601052539.prd",
	"https://www.very.co.uk/apple-earpods-lightning-connector/1601052540.prd",
}

// ErrEmptyPool 诱饵地址列表为空
var ErrEmptyPool = errors.New("decoy pool is empty")

// Pool 静态诱饵地址池，Pick 并发安全
type Pool struct {
	mu   sync.Mutex
	urls []string
	rnd  *rand.Rand
}

// New 创建诱饵池；urls 为空时使用默认列表
func New(urls []string) *Pool {
	return NewWithSource(urls, rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource 使用指定随机源创建诱饵池
func NewWithSource(urls []string, src rand.Source) *Pool {
	if len(urls) == 0 {
		urls = DefaultURLs
	}
	return &Pool{urls: append([]string(nil), urls...), rnd: rand.New(src)}
}

// Pick 均匀随机选取一个地址
func (p *Pool) Pick() (string, error) {
	if len(p.urls) == 0 {
		return "", ErrEmptyPool
	}
	p.mu.Lock()
	i := p.rnd.Intn(len(p.urls))
	p.mu.Unlock()
	return p.urls[i], nil
}
