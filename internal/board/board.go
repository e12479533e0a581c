package board

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	MinColumn = 3
	MaxColumn = 18

	// DiceSides - количество граней кубика.
	DiceSides = 6
	// StandardDiceCount - стандартное число кубиков за бросок.
	StandardDiceCount = 6
	// MinDiceCount и MaxDiceCount ограничивают эффекты, меняющие число кубиков.
	MinDiceCount = 4
	MaxDiceCount = 8
)

var heights = [...]int{3, 4, 5, 6, 7, 8, 9, 10, 10, 9, 8, 7, 6, 5, 4, 3}

// IsValidColumn проверяет, что колонка существует на доске.
func IsValidColumn(c int) bool {
	return c >= MinColumn && c <= MaxColumn
}

// Height возвращает L(c) - число клеток колонки над стартом.
func Height(c int) (int, error) {
	if !IsValidColumn(c) {
		return 0, fmt.Errorf("column %d out of range [%d,%d]", c, MinColumn, MaxColumn)
	}
	return heights[c-MinColumn], nil
}

// MustHeight - Height для заранее проверенных колонок.
func MustHeight(c int) int {
	h, err := Height(c)
	if err != nil {
		panic(err)
	}
	return h
}

// Columns возвращает все колонки по возрастанию.
func Columns() []int {
	cols := make([]int, 0, MaxColumn-MinColumn+1)
	for c := MinColumn; c <= MaxColumn; c++ {
		cols = append(cols, c)
	}
	return cols
}

// TotalCells - общее число клеток на доске.
func TotalCells() int {
	total := 0
	for _, h := range heights {
		total += h
	}
	return total
}

// IsValidPosition проверяет, что (c,p) - клетка доски (p в [1, L(c)]).
func IsValidPosition(c, p int) bool {
	h, err := Height(c)
	if err != nil {
		return false
	}
	return p >= 1 && p <= h
}

// PositionKey формирует ключ клетки в формате "c,p".
func PositionKey(c, p int) string {
	return strconv.Itoa(c) + "," + strconv.Itoa(p)
}

// ParsePositionKey разбирает ключ "c,p" и проверяет, что клетка существует.
func ParsePositionKey(key string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(key), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid position key %q", key)
	}
	c, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid column in position key %q: %w", key, err)
	}
	p, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid position in position key %q: %w", key, err)
	}
	if !IsValidPosition(c, p) {
		return 0, 0, fmt.Errorf("position key %q is outside the board", key)
	}
	return c, p, nil
}

// Pair - пара сумм двух групп кубиков, First <= Second.
type Pair struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

func (p Pair) String() string {
	return fmt.Sprintf("(%d,%d)", p.First, p.Second)
}

// Contains сообщает, называет ли пара колонку c.
func (p Pair) Contains(c int) bool {
	return p.First == c || p.Second == c
}

func newPair(a, b int) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{First: a, Second: b}
}

// Partitions перечисляет все разбиения кубиков на две группы и возвращает
// отсортированный набор пар, обе суммы которых - допустимые колонки.
// Для шести кубиков группы по три. Если кубиков больше шести, разбиваются все
// подмножества из шести; если меньше - группы ceil(n/2) и floor(n/2).
func Partitions(dice []int) []Pair {
	n := len(dice)
	if n < 2 {
		return nil
	}
	seen := make(map[Pair]struct{})
	switch {
	case n > StandardDiceCount:
		forEachSubset(n, StandardDiceCount, func(idx []int) {
			sub := make([]int, len(idx))
			for i, j := range idx {
				sub[i] = dice[j]
			}
			splitInto(sub, StandardDiceCount/2, seen)
		})
	default:
		splitInto(dice, (n+1)/2, seen)
	}

	pairs := make([]Pair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].First != pairs[j].First {
			return pairs[i].First < pairs[j].First
		}
		return pairs[i].Second < pairs[j].Second
	})
	return pairs
}

// splitInto добавляет в seen пары для всех способов выбрать size кубиков в первую группу.
func splitInto(dice []int, size int, seen map[Pair]struct{}) {
	total := 0
	for _, d := range dice {
		total += d
	}
	forEachSubset(len(dice), size, func(idx []int) {
		sum := 0
		for _, j := range idx {
			sum += dice[j]
		}
		p := newPair(sum, total-sum)
		if IsValidColumn(p.First) && IsValidColumn(p.Second) {
			seen[p] = struct{}{}
		}
	})
}

// forEachSubset вызывает fn для каждого k-сочетания индексов [0,n).
func forEachSubset(n, k int, fn func(idx []int)) {
	if k <= 0 || k > n {
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		fn(idx)
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// AllowsColumns проверяет выбор колонок относительно пар.
// Одна колонка допустима, если её называет хотя бы одна пара;
// две - если какая-то пара совпадает с ними как мультимножество.
func AllowsColumns(pairs []Pair, cols []int) bool {
	switch len(cols) {
	case 1:
		for _, p := range pairs {
			if p.Contains(cols[0]) {
				return true
			}
		}
	case 2:
		want := newPair(cols[0], cols[1])
		for _, p := range pairs {
			if p == want {
				return true
			}
		}
	}
	return false
}

// AnyPairTouches сообщает, называет ли хоть одна пара одну из колонок.
func AnyPairTouches(pairs []Pair, cols []int) bool {
	for _, p := range pairs {
		for _, c := range cols {
			if p.Contains(c) {
				return true
			}
		}
	}
	return false
}

// ClampDiceCount приводит число кубиков к допустимому диапазону.
func ClampDiceCount(n int) int {
	if n < MinDiceCount {
		return MinDiceCount
	}
	if n > MaxDiceCount {
		return MaxDiceCount
	}
	return n
}

// ClampDie приводит значение кубика к [1,6].
func ClampDie(v int) int {
	if v < 1 {
		return 1
	}
	if v > DiceSides {
		return DiceSides
	}
	return v
}

// ValidDice проверяет, что все значения лежат в [1,6].
func ValidDice(dice []int) bool {
	for _, d := range dice {
		if d < 1 || d > DiceSides {
			return false
		}
	}
	return true
}
