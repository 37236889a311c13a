package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Community is a group of stored results that are more similar to each
// other than to the rest of the library
type Community struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Size      int      `json:"size"`
	Members   []string `json:"members"` // content keys, most central first
	AvgBPM    int      `json:"avgBpm,omitempty"`
	Key       string   `json:"key,omitempty"` // most common key
	TopGenres []string `json:"topGenres"`
}

// CommunityDetector groups the library with the Louvain local-moving
// heuristic over the similarity graph
type CommunityDetector struct {
	engine        *SimilarityEngine
	topK          int
	maxIterations int
}

// NewCommunityDetector creates a detector. Each result keeps its topK
// most similar neighbours as graph edges.
func NewCommunityDetector(engine *SimilarityEngine, topK int) *CommunityDetector {
	if topK <= 0 {
		topK = DefaultSimilarLimit
	}
	return &CommunityDetector{
		engine:        engine,
		topK:          topK,
		maxIterations: 10,
	}
}

type graphEdge struct {
	to     int
	weight float64
}

// Detect partitions every stored, non-error result into communities,
// largest first
func (d *CommunityDetector) Detect() ([]Community, error) {
	all, err := d.engine.store.All()
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	nodes := make([]*StoredResult, 0, len(all))
	for _, r := range all {
		if r.Result != nil && r.Result.Source != SourceError {
			nodes = append(nodes, r)
		}
	}
	if len(nodes) == 0 {
		return []Community{}, nil
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ContentKey < nodes[j].ContentKey })

	adjacency := d.buildGraph(nodes)
	community := d.localMoving(adjacency)
	return d.describe(nodes, adjacency, community), nil
}

// buildGraph links every node to its topK neighbours above the match
// threshold. Edges are symmetric.
func (d *CommunityDetector) buildGraph(nodes []*StoredResult) [][]graphEdge {
	n := len(nodes)
	scores := make([][]float64, n)
	for i := range scores {
		scores[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := d.engine.ComputeSimilarity(nodes[i].Result, nodes[j].Result)
			scores[i][j], scores[j][i] = s, s
		}
	}

	weights := make([]map[int]float64, n)
	for i := range weights {
		weights[i] = make(map[int]float64)
	}
	for i := 0; i < n; i++ {
		candidates := make([]int, 0, n-1)
		for j := 0; j < n; j++ {
			if j != i && scores[i][j] >= MinSimilarityThreshold {
				candidates = append(candidates, j)
			}
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			return scores[i][candidates[a]] > scores[i][candidates[b]]
		})
		if len(candidates) > d.topK {
			candidates = candidates[:d.topK]
		}
		for _, j := range candidates {
			weights[i][j] = scores[i][j]
			weights[j][i] = scores[i][j]
		}
	}

	adjacency := make([][]graphEdge, n)
	for i, w := range weights {
		for j, weight := range w {
			adjacency[i] = append(adjacency[i], graphEdge{to: j, weight: weight})
		}
		sort.Slice(adjacency[i], func(a, b int) bool { return adjacency[i][a].to < adjacency[i][b].to })
	}
	return adjacency
}

// localMoving repeatedly moves each node to the neighbouring community
// with the best modularity gain until nothing moves
func (d *CommunityDetector) localMoving(adjacency [][]graphEdge) []int {
	n := len(adjacency)
	community := make([]int, n)
	degree := make([]float64, n)
	commTotal := make([]float64, n)
	var m2 float64
	for i, edges := range adjacency {
		community[i] = i
		for _, e := range edges {
			degree[i] += e.weight
		}
		commTotal[i] = degree[i]
		m2 += degree[i]
	}
	if m2 == 0 {
		return community
	}

	for iteration := 0; iteration < d.maxIterations; iteration++ {
		improved := false
		for i, edges := range adjacency {
			current := community[i]
			links := make(map[int]float64)
			for _, e := range edges {
				links[community[e.to]] += e.weight
			}

			commTotal[current] -= degree[i]
			best := current
			bestGain := links[current] - commTotal[current]*degree[i]/m2

			candidates := make([]int, 0, len(links))
			for c := range links {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)
			for _, c := range candidates {
				gain := links[c] - commTotal[c]*degree[i]/m2
				if gain > bestGain+1e-12 {
					best, bestGain = c, gain
				}
			}

			commTotal[best] += degree[i]
			if best != current {
				community[i] = best
				improved = true
			}
		}
		if !improved {
			break
		}
	}
	return community
}

// describe groups nodes by community and summarizes each group
func (d *CommunityDetector) describe(nodes []*StoredResult, adjacency [][]graphEdge, community []int) []Community {
	groups := make(map[int][]int)
	for i, c := range community {
		groups[c] = append(groups[c], i)
	}

	result := make([]Community, 0, len(groups))
	for c, members := range groups {
		centrality := make(map[int]float64, len(members))
		for _, i := range members {
			centrality[i] = nodeCentrality(i, c, community, adjacency)
		}
		sort.SliceStable(members, func(a, b int) bool {
			return centrality[members[a]] > centrality[members[b]]
		})

		keys := make([]string, len(members))
		results := make([]*Result, len(members))
		for k, i := range members {
			keys[k] = nodes[i].ContentKey
			results[k] = nodes[i].Result
		}

		avgBPM, key, genres, level := summarize(results)
		result = append(result, Community{
			Name:      communityName(avgBPM, level, genres),
			Size:      len(members),
			Members:   keys,
			AvgBPM:    avgBPM,
			Key:       key,
			TopGenres: genres,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Size != result[j].Size {
			return result[i].Size > result[j].Size
		}
		return minKey(result[i].Members) < minKey(result[j].Members)
	})
	for i := range result {
		result[i].ID = i
	}
	return result
}

// nodeCentrality is the share of a node's edge weight that stays inside its community
func nodeCentrality(node, comm int, community []int, adjacency [][]graphEdge) float64 {
	var same, total float64
	for _, e := range adjacency[node] {
		total += e.weight
		if community[e.to] == comm {
			same += e.weight
		}
	}
	if total == 0 {
		return 0
	}
	return same / total
}

// summarize returns the mean tempo, the most common key, up to three most
// common genres and the most common energy level of results
func summarize(results []*Result) (int, string, []string, EnergyLevel) {
	var bpmSum, bpmCount int
	keys := make(map[string]float64)
	genres := make(map[string]float64)
	levels := make(map[string]float64)
	for _, r := range results {
		if r.BPM != nil {
			bpmSum += *r.BPM
			bpmCount++
		}
		if r.Key != nil {
			keys[*r.Key]++
		}
		if r.EnergyLevel != nil {
			levels[string(*r.EnergyLevel)]++
		}
		for _, g := range r.Genres {
			genres[g]++
		}
	}

	avgBPM := 0
	if bpmCount > 0 {
		avgBPM = int(math.Round(float64(bpmSum) / float64(bpmCount)))
	}

	var key string
	if ranked := RankLabels(keys); len(ranked) > 0 {
		key = ranked[0]
	}
	topGenres := RankLabels(genres)
	if len(topGenres) > 3 {
		topGenres = topGenres[:3]
	}
	var level EnergyLevel
	if ranked := RankLabels(levels); len(ranked) > 0 {
		level = EnergyLevel(ranked[0])
	}
	return avgBPM, key, topGenres, level
}

func communityName(avgBPM int, level EnergyLevel, genres []string) string {
	var parts []string

	switch {
	case avgBPM == 0:
	case avgBPM >= 140:
		parts = append(parts, "High-tempo")
	case avgBPM <= 95:
		parts = append(parts, "Slow")
	default:
		parts = append(parts, "Mid-tempo")
	}

	switch level {
	case EnergyHigh:
		parts = append(parts, "energetic")
	case EnergyLow:
		parts = append(parts, "mellow")
	}

	if len(genres) > 0 && genres[0] != "unknown" {
		parts = append(parts, genres[0])
	}

	if len(parts) == 0 {
		return "Unsorted"
	}
	return strings.Join(parts, " ")
}

func minKey(keys []string) string {
	m := keys[0]
	for _, k := range keys[1:] {
		if k < m {
			m = k
		}
	}
	return m
}
