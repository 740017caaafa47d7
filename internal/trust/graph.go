// Путь: internal/trust/graph.go
package trust

import (
	"context"
	"fmt"

	"WhisperMesh/pkg/interfaces"
)

// TrustGraph - прочитанный снимок web-of-trust. Узлы - отпечатки ключей,
// ребра - направленные отношения "подписан ключом". Ядро только отвечает
// на вопросы достижимости; сам граф поддерживается бэкендом.
type TrustGraph struct {
	nodes map[string]interfaces.TrustNode
	edges map[string][]string // отпечаток подписанта -> подписанные им отпечатки
}

// LoadTrustGraph загружает снимок графа через коллаборатора.
func LoadTrustGraph(ctx context.Context, fetcher interfaces.ITrustGraphFetcher) (*TrustGraph, error) {
	snapshot, err := fetcher.FetchGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить граф доверия: %w", err)
	}
	return NewTrustGraph(snapshot), nil
}

// NewTrustGraph строит граф из снимка.
func NewTrustGraph(snapshot *interfaces.TrustGraphSnapshot) *TrustGraph {
	g := &TrustGraph{
		nodes: make(map[string]interfaces.TrustNode, len(snapshot.Nodes)),
		edges: make(map[string][]string, len(snapshot.Edges)),
	}
	for _, n := range snapshot.Nodes {
		g.nodes[n.Fingerprint] = n
	}
	for _, e := range snapshot.Edges {
		g.edges[e.SignerFingerprint] = append(g.edges[e.SignerFingerprint], e.SignedFingerprint)
	}
	return g
}

// Reachable отвечает на вопрос "достижим ли отпечаток target из множества
// доверенных отпечатков по ребрам подписи". Отозванные узлы не проходимы
// и не могут быть целью.
func (g *TrustGraph) Reachable(trusted []string, target string) bool {
	if node, ok := g.nodes[target]; !ok || node.Revoked {
		return false
	}

	visited := make(map[string]bool, len(g.nodes))
	queue := make([]string, 0, len(trusted))
	for _, fp := range trusted {
		node, ok := g.nodes[fp]
		if !ok || node.Revoked {
			continue
		}
		if fp == target {
			return true
		}
		visited[fp] = true
		queue = append(queue, fp)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[current] {
			if visited[next] {
				continue
			}
			node, ok := g.nodes[next]
			if !ok || node.Revoked {
				continue
			}
			if next == target {
				return true
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return false
}

// IdentityOf возвращает личность, сопоставленную узлу графа, если она есть.
func (g *TrustGraph) IdentityOf(fingerprint string) (string, bool) {
	node, ok := g.nodes[fingerprint]
	if !ok || node.Identity == "" {
		return "", false
	}
	return node.Identity, true
}
