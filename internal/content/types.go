package content

// Model 表示存储在文档 Content(JSONB) 中的结构化数据。
// It is the canonical, template-agnostic input to the export pipeline.
type Model struct {
	Title    string    `json:"title"`
	Theme    Theme     `json:"theme"`
	Sections []Section `json:"sections"`
}

// Theme 描述文档的全局样式。
type Theme struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	FontFamily     string `json:"font_family"`
	TemplateID     string `json:"template_id"`
}

// Kind tags the Section variant. Exactly one variant pointer is set
// per section; the others stay nil.
type Kind string

const (
	KindCover        Kind = "cover"
	KindAbout        Kind = "about"
	KindItemList     Kind = "item_list"
	KindPriceTable   Kind = "price_table"
	KindGallery      Kind = "gallery"
	KindTestimonials Kind = "testimonials"
	KindContacts     Kind = "contacts"
)

// Section 表示文档中的单个内容块。Order is user-controlled and significant.
type Section struct {
	Kind         Kind          `json:"kind"`
	Cover        *Cover        `json:"cover,omitempty"`
	About        *About        `json:"about,omitempty"`
	ItemList     *ItemList     `json:"item_list,omitempty"`
	PriceTable   *PriceTable   `json:"price_table,omitempty"`
	Gallery      *Gallery      `json:"gallery,omitempty"`
	Testimonials *Testimonials `json:"testimonials,omitempty"`
	Contacts     *Contacts     `json:"contacts,omitempty"`
}

// ImageRef references an image either by URL/object key or by raw
// bytes already resolved by the asset fetcher. Empty both ways means
// "no image".
type ImageRef struct {
	URL  string `json:"url,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// Empty reports whether the reference carries neither a source nor bytes.
func (r ImageRef) Empty() bool {
	return r.URL == "" && len(r.Data) == 0
}

// Cover 封面区块。
type Cover struct {
	Image ImageRef `json:"image,omitempty"`
}

// About 介绍区块。
type About struct {
	Heading string   `json:"heading"`
	Body    string   `json:"body"`
	Image   ImageRef `json:"image,omitempty"`
}

// Item 表示商品/条目列表中的一项。
// Price is an opaque, pre-formatted display string; the pipeline never
// parses or computes on it.
type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       string   `json:"price"`
	Image       ImageRef `json:"image,omitempty"`
}

// ItemList 条目列表区块。
type ItemList struct {
	Items []Item `json:"items"`
}

// PriceRow 价格表中的一行。
type PriceRow struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Price string `json:"price"`
	Note  string `json:"note,omitempty"`
}

// PriceTable 价格表区块。
type PriceTable struct {
	Rows []PriceRow `json:"rows"`
}

// Gallery 图片画廊区块。
type Gallery struct {
	Images []ImageRef `json:"images"`
}

// Testimonial 用户评价。Rating 取值 1..5。
type Testimonial struct {
	ID     string `json:"id"`
	Author string `json:"author"`
	Text   string `json:"text"`
	Rating int    `json:"rating"`
}

// Testimonials 评价区块。
type Testimonials struct {
	Entries []Testimonial `json:"entries"`
}

// ChannelKind 联系方式类型。
type ChannelKind string

const (
	ChannelPhone  ChannelKind = "phone"
	ChannelEmail  ChannelKind = "email"
	ChannelSocial ChannelKind = "social"
)

// Channel 单个联系方式。
type Channel struct {
	Kind  ChannelKind `json:"kind"`
	Value string      `json:"value"`
}

// Contacts 联系方式区块。
type Contacts struct {
	Channels []Channel `json:"channels"`
}
