package mcpserver

// AboutFormatContract describes the optional <Sensor>.md document that
// supplies a sensor's tag description and extra post tags.
const AboutFormatContract = `# Sensor About Document

Each sensor MAY have a Markdown document named after it in the data
directory (e.g. ` + "`" + `EarthQuakeSensor.md` + "`" + `). The publisher uses it when it creates
the sensor's tag and when it tags new posts.

## Structure

` + "```" + `markdown
---
title: Earthquakes near San Diego    # OPTIONAL – defaults to the first heading
tags:                                 # OPTIONAL – extra tags added to every post
  - usgs
  - seismic
featured_image: images/quake.png      # OPTIONAL – overrides the featured_image setting
---

Body text in standard Markdown. Inline #hashtags are added as tags too.
` + "```" + `

## Rules

1. **Frontmatter is optional**, but when present the ` + "```" + `---` + "```" + ` fences must be the
   first thing in the file.
2. **The body becomes the tag description.** Headings and emphasis are stripped
   and the result is cut to 500 characters. It replaces the ` + "`" + `about` + "`" + ` setting.
3. **Tags** are lowercase, kebab-case (e.g. ` + "`" + `uv-index` + "`" + `).
4. **Images** live in the shared ` + "`" + `images/` + "`" + ` directory. Upload them with the
   ` + "`" + `upload_image` + "`" + ` tool and reference them by the returned ` + "`" + `savedPath` + "`" + `.
5. **Encoding** is UTF-8 with a trailing newline.

## Example

` + "```" + `markdown
---
title: UV Index
tags:
  - epa
---

# UV Index

Daily UV forecasts from the EPA for #grossmont students.
` + "```" + `
`
