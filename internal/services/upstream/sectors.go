package upstream

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/models"
)

// Concept boards ranked by percent change, best first.
const sectorBoards = "m:90+t:3"

var sectorIcons = []struct {
	icon  string
	words []string
}{
	{"💾", []string{"半导体", "芯片", "存储", "光刻"}},
	{"🤖", []string{"AI", "人工智能", "算力", "机器人", "大模型"}},
	{"💰", []string{"中特估", "银行", "保险", "证券", "红利"}},
	{"📈", []string{"高股息", "电力", "公用"}},
	{"🔋", []string{"新能源", "锂电", "电池", "光伏", "汽车"}},
}

const defaultSectorIcon = "📊"

type clistResponse struct {
	Data *struct {
		Total int `json:"total"`
		Diff  []struct {
			ChangePercent scaled `json:"f3"`
			Code          string `json:"f12"`
			Name          string `json:"f14"`
			Leader        string `json:"f128"`
		} `json:"diff"`
	} `json:"data"`
}

// Sectors reads the hot concept-board ranking.
type Sectors struct {
	ep    *endpoint
	limit int
}

// NewSectors creates the sector adapter
func NewSectors(cfg *config.UpstreamsConfig, deps Deps) *Sectors {
	return &Sectors{
		ep:    newEndpoint(SourceSectors, cfg.QuoteBaseURL, cfg.Timeout, deps),
		limit: 8,
	}
}

// Top returns the best performing boards.
func (s *Sectors) Top(ctx context.Context) ([]models.Sector, error) {
	resp, err := s.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParams(map[string]string{
				"pn":     "1",
				"pz":     strconv.Itoa(s.limit),
				"po":     "1",
				"np":     "1",
				"fid":    "f3",
				"fs":     sectorBoards,
				"fields": "f3,f12,f14,f128",
			}).
			Get("/api/qt/clist/get")
	})
	if err != nil {
		return nil, err
	}

	var body clistResponse
	if err := s.ep.decode(resp, &body); err != nil {
		return nil, err
	}
	if body.Data == nil {
		return nil, nil
	}

	sectors := make([]models.Sector, 0, len(body.Data.Diff))
	for _, d := range body.Data.Diff {
		if d.Name == "" || !d.ChangePercent.Valid {
			continue
		}
		sectors = append(sectors, models.Sector{
			Name:          d.Name,
			ChangePercent: d.ChangePercent.Value,
			HotStock:      d.Leader,
			Icon:          SectorIcon(d.Name),
		})
	}
	return sectors, nil
}

// SectorIcon picks a display icon from the board name.
func SectorIcon(name string) string {
	for _, si := range sectorIcons {
		for _, w := range si.words {
			if strings.Contains(name, w) {
				return si.icon
			}
		}
	}
	return defaultSectorIcon
}
