package coeficiente

import (
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esteira_coeficiente_cache_hits_total",
		Help: "Consultas de coeficiente atendidas pelo cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "esteira_coeficiente_cache_misses_total",
		Help: "Consultas de coeficiente que foram ao banco.",
	})
)

// Cache guarda coeficientes por banco e parcelas com TTL.
type Cache struct {
	lru *expirable.LRU[string, float64]
}

// NewCache cria o cache com tamanho máximo e TTL por entrada.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{lru: expirable.NewLRU[string, float64](size, nil, ttl)}
}

func (c *Cache) Get(banco string, parcelas int) (float64, bool) {
	v, ok := c.lru.Get(cacheKey(banco, parcelas))
	if ok {
		cacheHitsTotal.Inc()
		return v, true
	}
	cacheMissesTotal.Inc()
	return 0, false
}

func (c *Cache) Set(banco string, parcelas int, coef float64) {
	c.lru.Add(cacheKey(banco, parcelas), coef)
}

// Purge descarta todas as entradas (após importação).
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

func cacheKey(banco string, parcelas int) string {
	return banco + ":" + strconv.Itoa(parcelas)
}
