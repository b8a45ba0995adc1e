package shopify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

// ErrMetaobjectNotFound is returned when no metaobject has the requested handle.
var ErrMetaobjectNotFound = errors.New("metaobject not found")

const metaobjectByHandleQuery = `query metaobjectByHandle($type: String!, $handle: String!) {
  metaobjectByHandle(handle: {type: $type, handle: $handle}) { id type handle }
}`

const metaobjectUpdateMutation = `mutation metaobjectUpdate($id: ID!, $metaobject: MetaobjectUpdateInput!) {
  metaobjectUpdate(id: $id, metaobject: $metaobject) {
    metaobject { id handle fields { key value } }
    userErrors { field message }
  }
}`

// Metaobject is a custom content entry.
type Metaobject struct {
	ID     string            `json:"id"`
	Handle string            `json:"handle"`
	Fields map[string]string `json:"fields,omitempty"`
}

// MetaobjectField is one key/value pair of a metaobject update.
type MetaobjectField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Banner is one slot of a banner metaobject. Slot n maps to the keys
// product_link_n, banner_url_n, mobile_banner_url_n, banner_title_n,
// banner_subtitle_n, button_text_n and button_url_n.
type Banner struct {
	ProductURL      string `json:"product_url"`
	BannerURL       string `json:"banner_url"`
	MobileBannerURL string `json:"mobile_banner_url"`
	Title           string `json:"title"`
	Subtitle        string `json:"subtitle"`
	ButtonText      string `json:"button_text"`
	ButtonURL       string `json:"button_url"`
}

// Fields returns the metaobject fields of the banner in slot.
func (b Banner) Fields(slot int) []MetaobjectField {
	if slot < 1 {
		slot = 1
	}
	key := func(name string) string { return fmt.Sprintf("%s_%d", name, slot) }
	return []MetaobjectField{
		{Key: key("product_link"), Value: b.ProductURL},
		{Key: key("banner_url"), Value: b.BannerURL},
		{Key: key("mobile_banner_url"), Value: b.MobileBannerURL},
		{Key: key("banner_title"), Value: b.Title},
		{Key: key("banner_subtitle"), Value: b.Subtitle},
		{Key: key("button_text"), Value: b.ButtonText},
		{Key: key("button_url"), Value: b.ButtonURL},
	}
}

// MetaobjectGID returns the id of the metaobject of type with handle.
func (s *Service) MetaobjectGID(ctx context.Context, metaobjectType, handle string) (string, error) {
	start := time.Now()
	id, err := s.metaobjectGID(ctx, s.newLimiter(), metaobjectType, handle)
	return id, s.observe(ctx, "metaobject_gid", start, err)
}

func (s *Service) metaobjectGID(ctx context.Context, l *ratelimit.Limiter, metaobjectType, handle string) (string, error) {
	if metaobjectType == "" || handle == "" {
		return "", &client.Error{Class: client.ClassUser, Message: "metaobject type and handle are required"}
	}

	var out struct {
		MetaobjectByHandle *struct {
			ID string `json:"id"`
		} `json:"metaobjectByHandle"`
	}
	req := client.Request{
		Query:     metaobjectByHandleQuery,
		Variables: map[string]any{"type": metaobjectType, "handle": handle},
	}
	if _, err := s.client.DoThrottled(ctx, l, req, &out); err != nil {
		return "", err
	}
	if out.MetaobjectByHandle == nil || out.MetaobjectByHandle.ID == "" {
		return "", &client.Error{Class: client.ClassUser, StatusCode: 200, Message: fmt.Sprintf("metaobject %s/%s", metaobjectType, handle), Err: ErrMetaobjectNotFound}
	}
	return out.MetaobjectByHandle.ID, nil
}

// UpdateMetaobject sets fields on the metaobject with id.
func (s *Service) UpdateMetaobject(ctx context.Context, id string, fields []MetaobjectField) (*Metaobject, error) {
	start := time.Now()
	obj, err := s.updateMetaobject(ctx, s.newLimiter(), id, fields)
	return obj, s.observe(ctx, "update_metaobject", start, err)
}

// UpdateBanner sets one banner slot on the metaobject of type with handle.
func (s *Service) UpdateBanner(ctx context.Context, metaobjectType, handle string, slot int, banner Banner) (*Metaobject, error) {
	start := time.Now()
	l := s.newLimiter()
	id, err := s.metaobjectGID(ctx, l, metaobjectType, handle)
	if err != nil {
		return nil, s.observe(ctx, "update_banner", start, err)
	}
	obj, err := s.updateMetaobject(ctx, l, id, banner.Fields(slot))
	return obj, s.observe(ctx, "update_banner", start, err)
}

func (s *Service) updateMetaobject(ctx context.Context, l *ratelimit.Limiter, id string, fields []MetaobjectField) (*Metaobject, error) {
	gid, err := GID("Metaobject", id)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, &client.Error{Class: client.ClassUser, Message: "metaobject update needs at least one field"}
	}

	var out struct {
		MetaobjectUpdate struct {
			Metaobject *struct {
				ID     string            `json:"id"`
				Handle string            `json:"handle"`
				Fields []MetaobjectField `json:"fields"`
			} `json:"metaobject"`
			UserErrors []client.UserError `json:"userErrors"`
		} `json:"metaobjectUpdate"`
	}
	req := client.Request{
		Query: metaobjectUpdateMutation,
		Variables: map[string]any{
			"id":         gid,
			"metaobject": map[string]any{"fields": fields},
		},
	}
	if _, err := s.client.DoThrottled(ctx, l, req, &out); err != nil {
		return nil, err
	}
	if err := client.UserErrorsToError("metaobjectUpdate", out.MetaobjectUpdate.UserErrors); err != nil {
		return nil, err
	}
	if out.MetaobjectUpdate.Metaobject == nil {
		return nil, &client.Error{Class: client.ClassGraphQL, StatusCode: 200, Message: "metaobjectUpdate returned no metaobject"}
	}

	m := out.MetaobjectUpdate.Metaobject
	obj := &Metaobject{ID: m.ID, Handle: m.Handle, Fields: make(map[string]string, len(m.Fields))}
	for _, f := range m.Fields {
		obj.Fields[f.Key] = f.Value
	}
	s.logger.Info().Str("metaobject", obj.ID).Int("fields", len(fields)).Msg("Metaobject updated")
	return obj, nil
}

// BlogPost is an article to publish.
type BlogPost struct {
	BlogID   string
	Title    string
	BodyHTML string
	Author   string
	Tags     []string

	// PublishedAt schedules the article. Nil publishes it now.
	PublishedAt *time.Time

	// ImagePath is uploaded to the shop's files and used as cover image.
	// ImageURL is used as is when no ImagePath is set.
	ImagePath string
	ImageURL  string

	// ImageAlt defaults to Title.
	ImageAlt string
}

// Article is a published blog article.
type Article struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Handle   string `json:"handle"`
	ImageURL string `json:"imageUrl,omitempty"`
}

const articleCreateMutation = `mutation articleCreate($article: ArticleCreateInput!) {
  articleCreate(article: $article) {
    article { id title handle }
    userErrors { field message }
  }
}`

// PublishBlogPost creates an article on a blog. A local cover image is
// uploaded first and must resolve to a URL before the article is created.
func (s *Service) PublishBlogPost(ctx context.Context, post BlogPost) (*Article, error) {
	start := time.Now()
	article, err := s.publishBlogPost(ctx, post)
	return article, s.observe(ctx, "publish_blog_post", start, err)
}

func (s *Service) publishBlogPost(ctx context.Context, post BlogPost) (*Article, error) {
	blogGID, err := GID("Blog", post.BlogID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(post.Title) == "" {
		return nil, &client.Error{Class: client.ClassUser, Message: "blog post title is required"}
	}

	l := s.newLimiter()

	alt := post.ImageAlt
	if alt == "" {
		alt = post.Title
	}
	imageURL := post.ImageURL
	if post.ImagePath != "" {
		_, url, err := s.newUploader(l).UploadImage(ctx, post.ImagePath, alt)
		if err != nil {
			return nil, err
		}
		imageURL = url
	}

	input := map[string]any{
		"blogId": blogGID,
		"title":  post.Title,
		"body":   post.BodyHTML,
	}
	if post.Author != "" {
		input["author"] = map[string]any{"name": post.Author}
	}
	if len(post.Tags) > 0 {
		input["tags"] = slices.Clone(post.Tags)
	}
	if post.PublishedAt != nil {
		input["publishDate"] = post.PublishedAt.UTC().Format(time.RFC3339)
		input["isPublished"] = !post.PublishedAt.After(time.Now())
	} else {
		input["isPublished"] = true
	}
	if imageURL != "" {
		input["image"] = map[string]any{"url": imageURL, "altText": alt}
	}

	var out struct {
		ArticleCreate struct {
			Article *struct {
				ID     string `json:"id"`
				Title  string `json:"title"`
				Handle string `json:"handle"`
			} `json:"article"`
			UserErrors []client.UserError `json:"userErrors"`
		} `json:"articleCreate"`
	}
	req := client.Request{Query: articleCreateMutation, Variables: map[string]any{"article": input}}
	if _, err := s.client.DoThrottled(ctx, l, req, &out); err != nil {
		return nil, err
	}
	if err := client.UserErrorsToError("articleCreate", out.ArticleCreate.UserErrors); err != nil {
		return nil, err
	}
	if out.ArticleCreate.Article == nil {
		return nil, &client.Error{Class: client.ClassGraphQL, StatusCode: 200, Message: "articleCreate returned no article"}
	}

	a := out.ArticleCreate.Article
	s.logger.Info().Str("article", a.ID).Str("blog", blogGID).Msg("Blog post published")
	return &Article{ID: a.ID, Title: a.Title, Handle: a.Handle, ImageURL: imageURL}, nil
}
